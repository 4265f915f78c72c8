package content

// TermFields 分类项读取模式
type TermFields int

const (
	// TermFieldsIDs 仅返回 ID 列表
	TermFieldsIDs TermFields = iota
	// TermFieldsAll 返回完整分类项对象（不含 ObjectID）
	TermFieldsAll
	// TermFieldsAllWithObjectID 返回完整对象并携带所属实体 ID
	TermFieldsAllWithObjectID
)

// Term 分类项
type Term struct {
	ID       int64
	Taxonomy string
	Name     string
	Slug     string
	Parent   int64
	// ObjectID 仅在 TermFieldsAllWithObjectID 模式下设置
	ObjectID *int64
}

// TermList 分类项读取结果，形状由读取模式决定
type TermList struct {
	Mode  TermFields
	IDs   []int64
	Terms []Term
}

// TermIDs 无论读取模式如何都返回 ID 列表
func (l TermList) TermIDs() []int64 {
	if l.Mode == TermFieldsIDs {
		return append([]int64(nil), l.IDs...)
	}
	ids := make([]int64, 0, len(l.Terms))
	for _, t := range l.Terms {
		ids = append(ids, t.ID)
	}
	return ids
}

// ShapeTerms 按读取模式整形分类项：ID 模式只保留 ID；
// TermFieldsAll 去掉 ObjectID；TermFieldsAllWithObjectID 补齐 ObjectID
func ShapeTerms(mode TermFields, terms []Term, objectID int64) TermList {
	out := TermList{Mode: mode}
	switch mode {
	case TermFieldsIDs:
		out.IDs = make([]int64, 0, len(terms))
		for _, t := range terms {
			out.IDs = append(out.IDs, t.ID)
		}
	case TermFieldsAllWithObjectID:
		out.Terms = make([]Term, 0, len(terms))
		for _, t := range terms {
			id := objectID
			t.ObjectID = &id
			out.Terms = append(out.Terms, t)
		}
	default:
		out.Terms = make([]Term, 0, len(terms))
		for _, t := range terms {
			t.ObjectID = nil
			out.Terms = append(out.Terms, t)
		}
	}
	return out
}
