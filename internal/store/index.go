package store

import "github.com/rcliao/memtier/internal/model"

// index maps categories and IDs to positions in the record sequence. It is
// only touched with Store.mu held.
type index struct {
	categories map[string][]int
	ids        map[string]int
}

func newIndex() index {
	return index{
		categories: make(map[string][]int),
		ids:        make(map[string]int),
	}
}

func (x *index) add(r *model.Record, pos int) {
	x.categories[r.Category] = append(x.categories[r.Category], pos)
	x.ids[r.ID] = pos
}

// rebuild discards every position and reindexes records from scratch.
func (x *index) rebuild(records []*model.Record) {
	*x = newIndex()
	for i, r := range records {
		x.add(r, i)
	}
}
