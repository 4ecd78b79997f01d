package cursor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
)

var testFields = Fields{
	"name":      {Column: "name"},
	"createdAt": {Column: "created_at", Cast: "::timestamptz"},
	"updatedAt": {Column: "updated_at", Cast: "::timestamptz"},
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Cursor{LastValue: "Dawnbreaker", LastID: uuid.New()}
	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"not base64!!", "bm90IGpzb24", Encode(Cursor{LastValue: "x"}), ""} {
		if _, err := Decode(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestParseSortValidation(t *testing.T) {
	if _, err := ParseSort(testFields, "password", "asc", "createdAt"); err == nil {
		t.Fatal("unknown sort field must be rejected")
	}
	if _, err := ParseSort(testFields, "name", "sideways", "createdAt"); err == nil {
		t.Fatal("invalid direction must be rejected")
	}

	s, err := ParseSort(testFields, "", "", "createdAt")
	if err != nil {
		t.Fatalf("default sort failed: %v", err)
	}
	if s.FieldName() != "createdAt" || s.Direction() != Desc {
		t.Fatalf("unexpected default sort %q %q", s.FieldName(), s.Direction())
	}
}

func TestOrderByAppendsTieBreak(t *testing.T) {
	s, _ := ParseSort(testFields, "name", "asc", "createdAt")
	if got := s.OrderBy("c."); got != "c.name ASC, c.id ASC" {
		t.Fatalf("unexpected order by %q", got)
	}
	s, _ = ParseSort(testFields, "updatedAt", "desc", "createdAt")
	if got := s.OrderBy(""); got != "updated_at DESC, id DESC" {
		t.Fatalf("unexpected order by %q", got)
	}
}

func TestPredicateShape(t *testing.T) {
	s, _ := ParseSort(testFields, "createdAt", "desc", "createdAt")
	c := Cursor{LastValue: "2026-01-02T03:04:05Z", LastID: uuid.New()}

	cond, args, next := s.Predicate(c, "", 4)
	if !strings.Contains(cond, "created_at < $4::timestamptz") {
		t.Fatalf("descending predicate must compare with <, got %q", cond)
	}
	if !strings.Contains(cond, "created_at = $5::timestamptz AND id < $6") {
		t.Fatalf("tie-break must compare id at $6, got %q", cond)
	}
	if len(args) != 3 || next != 7 {
		t.Fatalf("unexpected args %v next %d", args, next)
	}

	s, _ = ParseSort(testFields, "name", "asc", "createdAt")
	cond, _, _ = s.Predicate(c, "i.", 1)
	if !strings.Contains(cond, "i.name > $1") || !strings.Contains(cond, "i.id > $3") {
		t.Fatalf("ascending predicate must mirror with >, got %q", cond)
	}
}

func TestClampLimit(t *testing.T) {
	if ClampLimit(0) != DefaultLimit || ClampLimit(-5) != DefaultLimit {
		t.Fatal("non-positive limits must fall back to the default")
	}
	if ClampLimit(MaxLimit+1) != MaxLimit {
		t.Fatal("limits above the maximum must be clamped")
	}
	if ClampLimit(7) != 7 {
		t.Fatal("in-range limits must pass through")
	}
}

func TestTrimDetectsNextPage(t *testing.T) {
	rows := []string{"a", "b", "c"}
	page, hasNext := Trim(rows, 2)
	if !hasNext || len(page) != 2 {
		t.Fatalf("expected trimmed page with next, got %v %v", page, hasNext)
	}
	page, hasNext = Trim(rows, 3)
	if hasNext || len(page) != 3 {
		t.Fatalf("expected full page without next, got %v %v", page, hasNext)
	}
}

// row mirrors the minimal shape a repository returns for keyset walking.
type row struct {
	id   uuid.UUID
	name string
}

// fetch simulates a repository executing the continuation predicate against a
// stable dataset ordered ascending by (name, id).
func fetch(data []row, after *Cursor, limit int) []row {
	var out []row
	for _, r := range data {
		if after != nil {
			if r.name < after.LastValue {
				continue
			}
			if r.name == after.LastValue && r.id.String() <= after.LastID.String() {
				continue
			}
		}
		out = append(out, r)
		if len(out) == limit+1 {
			break
		}
	}
	return out
}

func TestPaginationVisitsEveryRowExactlyOnce(t *testing.T) {
	const n = 9
	data := make([]row, n)
	for i := range data {
		data[i] = row{id: uuid.New(), name: fmt.Sprintf("T%d", i+1)}
	}
	// Duplicate names force the id tie-break to do the work.
	data[3].name = data[2].name
	data[7].name = data[6].name
	sort.Slice(data, func(i, j int) bool {
		if data[i].name != data[j].name {
			return data[i].name < data[j].name
		}
		return data[i].id.String() < data[j].id.String()
	})

	for limit := 1; limit <= n; limit++ {
		seen := map[uuid.UUID]int{}
		var after *Cursor
		for pages := 0; ; pages++ {
			if pages > n {
				t.Fatalf("limit %d: pagination did not terminate", limit)
			}
			rows := fetch(data, after, limit)
			page, hasNext := Trim(rows, limit)
			for _, r := range page {
				seen[r.id]++
			}
			if !hasNext {
				break
			}
			last := page[len(page)-1]
			c, err := Decode(Encode(Cursor{LastValue: last.name, LastID: last.id}))
			if err != nil {
				t.Fatalf("minted cursor failed to decode: %v", err)
			}
			after = &c
		}
		if len(seen) != n {
			t.Fatalf("limit %d: visited %d rows, want %d", limit, len(seen), n)
		}
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("limit %d: row %s visited %d times", limit, id, count)
			}
		}
	}
}

func TestTwoPageWalk(t *testing.T) {
	data := make([]row, 5)
	for i := range data {
		data[i] = row{id: uuid.New(), name: fmt.Sprintf("T%d", i+1)}
	}

	rows := fetch(data, nil, 2)
	page1, hasNext := Trim(rows, 2)
	if !hasNext || page1[0].name != "T1" || page1[1].name != "T2" {
		t.Fatalf("page1 = %v hasNext=%v", page1, hasNext)
	}

	c1 := Cursor{LastValue: page1[1].name, LastID: page1[1].id}
	page2, hasNext := Trim(fetch(data, &c1, 2), 2)
	if !hasNext || page2[0].name != "T3" || page2[1].name != "T4" {
		t.Fatalf("page2 = %v hasNext=%v", page2, hasNext)
	}

	c2 := Cursor{LastValue: page2[1].name, LastID: page2[1].id}
	page3, hasNext := Trim(fetch(data, &c2, 2), 2)
	if hasNext || len(page3) != 1 || page3[0].name != "T5" {
		t.Fatalf("page3 = %v hasNext=%v", page3, hasNext)
	}
}

func TestNewPageInfo(t *testing.T) {
	next := Cursor{LastValue: "T2", LastID: uuid.New()}
	info := NewPageInfo(2, true, false, next)
	if !info.HasNext || info.HasPrev || info.NextCursor == nil {
		t.Fatalf("unexpected page info %+v", info)
	}
	decoded, err := Decode(*info.NextCursor)
	if err != nil || decoded != next {
		t.Fatalf("next cursor did not round trip: %v %v", decoded, err)
	}

	info = NewPageInfo(2, false, true, Cursor{})
	if info.HasNext || !info.HasPrev || info.NextCursor != nil {
		t.Fatalf("unexpected terminal page info %+v", info)
	}
}
