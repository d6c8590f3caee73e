package mm

import "testing"

func TestPageRangeNext(t *testing.T) {
	specs := []struct {
		start, end Page
		expPages   []Page
	}{
		{10, 13, []Page{10, 11, 12, 13}},
		{42, 42, []Page{42}},
		{5, 4, nil},
		// ranges touching the top of the address space must terminate
		{maxPage - 1, maxPage, []Page{maxPage - 1, maxPage}},
	}

	for specIndex, spec := range specs {
		r := NewPageRange(spec.start, spec.end)

		var got []Page
		for {
			page, ok := r.Next()
			if !ok {
				break
			}
			got = append(got, page)

			if len(got) > len(spec.expPages)+1 {
				t.Fatalf("[spec %d] iterator did not terminate", specIndex)
			}
		}

		if len(got) != len(spec.expPages) {
			t.Errorf("[spec %d] expected %d pages; got %d", specIndex, len(spec.expPages), len(got))
			continue
		}

		for i, page := range got {
			if page != spec.expPages[i] {
				t.Errorf("[spec %d] expected page %d to be %v; got %v", specIndex, i, spec.expPages[i], page)
			}
		}

		// an exhausted range stays exhausted
		if _, ok := r.Next(); ok {
			t.Errorf("[spec %d] expected exhausted range to keep returning false", specIndex)
		}
	}
}

func TestPageRangeForSize(t *testing.T) {
	specs := []struct {
		startAddr, size uintptr
		expStart        Page
		expCount        int
	}{
		{0, PageSize, 0, 1},
		{0, PageSize + 1, 0, 2},
		{4123, 1, 1, 1},
		{0, 0, 0, 0},
	}

	for specIndex, spec := range specs {
		r := PageRangeForSize(spec.startAddr, spec.size)

		var (
			count int
			first Page
		)
		for {
			page, ok := r.Next()
			if !ok {
				break
			}
			if count == 0 {
				first = page
			}
			count++
		}

		if count != spec.expCount {
			t.Errorf("[spec %d] expected %d pages; got %d", specIndex, spec.expCount, count)
		}
		if count != 0 && first != spec.expStart {
			t.Errorf("[spec %d] expected first page %v; got %v", specIndex, spec.expStart, first)
		}
	}
}
