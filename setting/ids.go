package setting

import (
	"strconv"
	"strings"

	"stagekit/content"
	"stagekit/errors"
)

// Kind 标识种类
type Kind int

const (
	KindEntity Kind = iota + 1
	KindMeta
	KindTerms
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "post"
	case KindMeta:
		return "postmeta"
	case KindTerms:
		return "post_terms"
	}
	return "unknown"
}

// Identifier Setting 标识（封闭变体：EntityValueID / MetaValueID / TermsValueID）
type Identifier interface {
	Kind() Kind
	Ref() content.EntityRef
	// WithRef 返回指向另一实体的同类标识（占位引用解析后使用）
	WithRef(ref content.EntityRef) Identifier
	String() string
}

// EntityValueID 整个实体的可编辑字段集合
type EntityValueID struct {
	Type string
	ID   int64
}

func (EntityValueID) Kind() Kind               { return KindEntity }
func (i EntityValueID) Ref() content.EntityRef { return content.Ref(i.Type, i.ID) }
func (i EntityValueID) WithRef(ref content.EntityRef) Identifier {
	return EntityValueID{Type: ref.Type, ID: ref.ID}
}

func (i EntityValueID) String() string {
	return "post[" + i.Type + "][" + strconv.FormatInt(i.ID, 10) + "]"
}

// MetaValueID 实体的某个元数据键
type MetaValueID struct {
	Type string
	ID   int64
	Key  string
}

func (MetaValueID) Kind() Kind               { return KindMeta }
func (i MetaValueID) Ref() content.EntityRef { return content.Ref(i.Type, i.ID) }
func (i MetaValueID) WithRef(ref content.EntityRef) Identifier {
	return MetaValueID{Type: ref.Type, ID: ref.ID, Key: i.Key}
}

func (i MetaValueID) String() string {
	return "postmeta[" + i.Type + "][" + strconv.FormatInt(i.ID, 10) + "][" + i.Key + "]"
}

// TermsValueID 实体在某分类法下的全部分类项
type TermsValueID struct {
	Type     string
	ID       int64
	Taxonomy string
}

func (TermsValueID) Kind() Kind               { return KindTerms }
func (i TermsValueID) Ref() content.EntityRef { return content.Ref(i.Type, i.ID) }
func (i TermsValueID) WithRef(ref content.EntityRef) Identifier {
	return TermsValueID{Type: ref.Type, ID: ref.ID, Taxonomy: i.Taxonomy}
}

func (i TermsValueID) String() string {
	return "post_terms[" + i.Type + "][" + strconv.FormatInt(i.ID, 10) + "][" + i.Taxonomy + "]"
}

// Parse 按文法解析标识，不校验领域约束（见 Registry.Resolve）
//
//	post[<type>][<id>]
//	postmeta[<type>][<id>][<meta_key>]
//	post_terms[<type>][<id>][<taxonomy>]
func Parse(s string) (Identifier, error) {
	var kind Kind
	var rest string
	switch {
	case strings.HasPrefix(s, "post["):
		kind, rest = KindEntity, s[len("post["):]
	case strings.HasPrefix(s, "postmeta["):
		kind, rest = KindMeta, s[len("postmeta["):]
	case strings.HasPrefix(s, "post_terms["):
		kind, rest = KindTerms, s[len("post_terms["):]
	default:
		return nil, invalidIdentifier(s, "unknown identifier prefix")
	}

	entityType, rest, ok := cutSegment(rest)
	if !ok || entityType == "" {
		return nil, invalidIdentifier(s, "missing entity type")
	}
	if !strings.HasPrefix(rest, "[") {
		return nil, invalidIdentifier(s, "missing entity id")
	}
	idText, rest, ok := cutSegment(rest[1:])
	if !ok {
		return nil, invalidIdentifier(s, "unterminated entity id")
	}
	id, ok := parseCanonicalID(idText)
	if !ok {
		return nil, invalidIdentifier(s, "entity id must be a canonical non-zero integer")
	}

	if kind == KindEntity {
		if rest != "" {
			return nil, invalidIdentifier(s, "trailing characters")
		}
		return EntityValueID{Type: entityType, ID: id}, nil
	}

	if len(rest) < 3 || rest[0] != '[' || rest[len(rest)-1] != ']' {
		return nil, invalidIdentifier(s, "missing trailing segment")
	}
	last := rest[1 : len(rest)-1]
	if last == "" {
		return nil, invalidIdentifier(s, "empty trailing segment")
	}
	if kind == KindMeta {
		return MetaValueID{Type: entityType, ID: id, Key: last}, nil
	}
	if strings.ContainsAny(last, "[]") {
		return nil, invalidIdentifier(s, "taxonomy must not contain brackets")
	}
	return TermsValueID{Type: entityType, ID: id, Taxonomy: last}, nil
}

// MustParse 解析失败时 panic（测试与静态注册使用）
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// cutSegment 读取到下一个 ']' 为止；段内不允许 '['
func cutSegment(s string) (segment, rest string, ok bool) {
	i := strings.IndexByte(s, ']')
	if i < 0 {
		return "", "", false
	}
	segment = s[:i]
	if strings.IndexByte(segment, '[') >= 0 {
		return "", "", false
	}
	return segment, s[i+1:], true
}

func parseCanonicalID(s string) (int64, bool) {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || digits[0] < '1' || digits[0] > '9' {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func invalidIdentifier(s, reason string) error {
	return errors.Newf(errors.ErrCodeInvalidIdentifier, "invalid setting identifier %q: %s", s, reason).
		WithContext(errors.DetailSettingID, s)
}
