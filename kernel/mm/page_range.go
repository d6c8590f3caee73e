package mm

// maxPage is the last addressable page in the virtual address space.
const maxPage = Page(^uintptr(0) >> PageShift)

// PageRange is an iterator over an inclusive range of consecutive virtual
// pages. Ranges that end at the top of the address space are handled without
// overflowing the page counter.
type PageRange struct {
	cur, end Page
	done     bool
}

// NewPageRange returns a PageRange covering the pages [start, end].
func NewPageRange(start, end Page) PageRange {
	return PageRange{cur: start, end: end, done: start > end}
}

// PageRangeForSize returns a PageRange covering size bytes starting at the
// page containing startAddr. The range is clamped to the top of the address
// space.
func PageRangeForSize(startAddr, size uintptr) PageRange {
	start := PageFromAddress(startAddr)
	if size == 0 {
		return PageRange{done: true}
	}

	end := PageFromAddress(startAddr + size - 1)
	if end < start {
		end = maxPage
	}

	return NewPageRange(start, end)
}

// Next returns the next page in the range. The second return value reports
// whether a page was produced or the range is exhausted.
func (r *PageRange) Next() (Page, bool) {
	if r.done {
		return 0, false
	}

	page := r.cur
	if r.cur == r.end {
		r.done = true
	} else {
		r.cur++
	}

	return page, true
}
