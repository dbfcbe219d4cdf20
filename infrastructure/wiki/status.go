package wiki

// LinkStatus classifies what a watch-list name resolves to.
type LinkStatus string

const (
	StatusOK               LinkStatus = "OK"
	StatusSimpTradRedirect LinkStatus = "SIMP_TRAD_REDIRECT"
	StatusRedirect         LinkStatus = "REDIRECT"
	StatusDisambig         LinkStatus = "DISAMBIG"
	StatusNoPage           LinkStatus = "NO_PAGE"
	StatusError            LinkStatus = "ERROR"
	StatusBaidu            LinkStatus = "BAIDU"
	StatusCDT              LinkStatus = "CDT"
)

// Terminal reports whether the status must not be cached: terminal failures
// get re-probed on the next run.
func (s LinkStatus) Terminal() bool {
	return s == StatusNoPage || s == StatusError
}

// TitleLookupStatus is the outcome of an authoritative-title query.
type TitleLookupStatus string

const (
	LookupOK       TitleLookupStatus = "OK"
	LookupDisambig TitleLookupStatus = "DISAMBIG"
	LookupNotFound TitleLookupStatus = "NOT_FOUND"
	LookupError    TitleLookupStatus = "ERROR"
)

// TitleLookup pairs a resolved title with its lookup status.
type TitleLookup struct {
	Title  string
	Status TitleLookupStatus
}
