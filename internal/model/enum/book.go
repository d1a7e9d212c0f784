package enum

// BookAction add, update, delete, clear
type BookAction uint8

const (
	_book_action_beg BookAction = iota
	BookActionAdd
	BookActionUpdate
	BookActionDelete
	BookActionClear
	_book_action_end
)

func (a BookAction) IsAvailable() bool {
	return a > _book_action_beg && a < _book_action_end
}

func (a BookAction) String() string {
	switch a {
	case BookActionAdd:
		return "ADD"
	case BookActionUpdate:
		return "UPDATE"
	case BookActionDelete:
		return "DELETE"
	case BookActionClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// BookType top-of-book, price-aggregated, per-order
type BookType uint8

const (
	_book_type_beg BookType = iota
	BookTypeL1MBP
	BookTypeL2MBP
	BookTypeL3MBO
	_book_type_end
)

func (t BookType) IsAvailable() bool {
	return t > _book_type_beg && t < _book_type_end
}

func (t BookType) String() string {
	switch t {
	case BookTypeL1MBP:
		return "L1_MBP"
	case BookTypeL2MBP:
		return "L2_MBP"
	case BookTypeL3MBO:
		return "L3_MBO"
	default:
		return "UNKNOWN"
	}
}

// ParseBookType reads the String form.
func ParseBookType(s string) (BookType, bool) {
	for t := _book_type_beg + 1; t < _book_type_end; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}
