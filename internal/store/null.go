package store

import "database/sql"

// Tri-state flags persist as nullable integers; NULL means inherit.

func flagToCol(f *bool) interface{} {
	if f == nil {
		return nil
	}
	if *f {
		return 1
	}
	return 0
}

func colToFlag(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Int64 != 0
	return &v
}

func intPtrToCol(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func colToIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func int64PtrToCol(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func colToInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
