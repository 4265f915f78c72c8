package sqlstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"stagekit/content"
	core "stagekit/data/db"
	"stagekit/store"
)

// 元数据值以 JSON 文本存储；解码时数字保留为 json.Number
func encodeMeta(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlstore: encode meta value: %w", err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("sqlstore: decode meta value: %w", err)
	}
	return v, nil
}

func metaWhere(ref content.EntityRef) sq.Eq {
	return sq.Eq{"entity_type": ref.Type, "entity_id": ref.ID}
}

func (s *Store) GetMeta(ctx context.Context, ref content.EntityRef, key string) ([]any, error) {
	rows, err := s.query(ctx, s.db, s.sb.Select("meta_value").From(tableEntityMeta).
		Where(metaWhere(ref)).Where(sq.Eq{"meta_key": key}).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get meta: %w", err)
	}
	defer rows.Close()

	values := []any{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := decodeMeta(raw)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) GetAllMeta(ctx context.Context, ref content.EntityRef) (map[string][]any, error) {
	rows, err := s.query(ctx, s.db, s.sb.Select("meta_key", "meta_value").From(tableEntityMeta).
		Where(metaWhere(ref)).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get all meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		v, err := decodeMeta(raw)
		if err != nil {
			return nil, err
		}
		out[key] = append(out[key], v)
	}
	return out, rows.Err()
}

func (s *Store) insertMeta(ctx context.Context, q core.IQuerier, ref content.EntityRef, key string, value any) error {
	raw, err := encodeMeta(value)
	if err != nil {
		return err
	}
	return s.exec(ctx, q, s.sb.Insert(tableEntityMeta).
		Columns("entity_type", "entity_id", "meta_key", "meta_value").
		Values(ref.Type, ref.ID, key, raw))
}

func (s *Store) UpdateMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	if ref.IsPlaceholder() {
		return store.ErrPlaceholderWrite
	}
	return core.WithTx(ctx, s.db, func(tx core.IQuerier) error {
		if err := s.exec(ctx, tx, s.sb.Delete(tableEntityMeta).Where(metaWhere(ref)).Where(sq.Eq{"meta_key": key})); err != nil {
			return fmt.Errorf("sqlstore: update meta: %w", err)
		}
		return s.insertMeta(ctx, tx, ref, key, value)
	})
}

func (s *Store) AddMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	if ref.IsPlaceholder() {
		return store.ErrPlaceholderWrite
	}
	return s.insertMeta(ctx, s.db, ref, key, value)
}

func (s *Store) ReplaceMeta(ctx context.Context, ref content.EntityRef, key string, values []any) error {
	if ref.IsPlaceholder() {
		return store.ErrPlaceholderWrite
	}
	return core.WithTx(ctx, s.db, func(tx core.IQuerier) error {
		if err := s.exec(ctx, tx, s.sb.Delete(tableEntityMeta).Where(metaWhere(ref)).Where(sq.Eq{"meta_key": key})); err != nil {
			return fmt.Errorf("sqlstore: replace meta: %w", err)
		}
		for _, v := range values {
			if err := s.insertMeta(ctx, tx, ref, key, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	if value == nil {
		return s.exec(ctx, s.db, s.sb.Delete(tableEntityMeta).Where(metaWhere(ref)).Where(sq.Eq{"meta_key": key}))
	}

	return core.WithTx(ctx, s.db, func(tx core.IQuerier) error {
		rows, err := s.query(ctx, tx, s.sb.Select("id", "meta_value").From(tableEntityMeta).
			Where(metaWhere(ref)).Where(sq.Eq{"meta_key": key}))
		if err != nil {
			return fmt.Errorf("sqlstore: delete meta: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var (
				id  int64
				raw string
			)
			if err := rows.Scan(&id, &raw); err != nil {
				rows.Close()
				return err
			}
			v, err := decodeMeta(raw)
			if err != nil {
				rows.Close()
				return err
			}
			if content.ValuesEqual(v, value) {
				ids = append(ids, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if len(ids) == 0 {
			return nil
		}
		return s.exec(ctx, tx, s.sb.Delete(tableEntityMeta).Where(sq.Eq{"id": ids}))
	})
}
