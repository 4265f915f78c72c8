package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"stagekit/content"
	core "stagekit/data/db"
	"stagekit/store"
)

func (s *Store) scanTerm(row core.IRow) (*content.Term, error) {
	var t content.Term
	err := row.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTermNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get term: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTerm(ctx context.Context, taxonomy string, id int64) (*content.Term, error) {
	return s.scanTerm(s.queryRow(ctx, s.db, s.sb.Select("id", "taxonomy", "name", "slug", "parent").
		From(tableTerms).Where(sq.Eq{"taxonomy": taxonomy, "id": id})))
}

func (s *Store) GetTermBySlug(ctx context.Context, taxonomy, slug string) (*content.Term, error) {
	return s.scanTerm(s.queryRow(ctx, s.db, s.sb.Select("id", "taxonomy", "name", "slug", "parent").
		From(tableTerms).Where(sq.Eq{"taxonomy": taxonomy, "slug": slug})))
}

func (s *Store) GetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, mode content.TermFields) (content.TermList, error) {
	rows, err := s.query(ctx, s.db, s.sb.Select("t.id", "t.taxonomy", "t.name", "t.slug", "t.parent").
		From(tableRelationships+" r").
		Join(tableTerms+" t ON t.id = r.term_id").
		Where(sq.Eq{"r.entity_type": ref.Type, "r.entity_id": ref.ID, "r.taxonomy": taxonomy}).
		OrderBy("r.position"))
	if err != nil {
		return content.TermList{}, fmt.Errorf("sqlstore: get terms: %w", err)
	}
	defer rows.Close()

	var terms []content.Term
	for rows.Next() {
		var t content.Term
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Parent); err != nil {
			return content.TermList{}, err
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return content.TermList{}, err
	}
	return content.ShapeTerms(mode, terms, ref.ID), nil
}

func (s *Store) SetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, termIDs []int64) (bool, error) {
	if ref.IsPlaceholder() {
		return false, store.ErrPlaceholderWrite
	}
	err := core.WithTx(ctx, s.db, func(tx core.IQuerier) error {
		if len(termIDs) > 0 {
			unique := make(map[int64]bool, len(termIDs))
			for _, id := range termIDs {
				unique[id] = true
			}
			var count int64
			err := s.queryRow(ctx, tx, s.sb.Select("COUNT(*)").From(tableTerms).
				Where(sq.Eq{"taxonomy": taxonomy, "id": termIDs})).Scan(&count)
			if err != nil {
				return fmt.Errorf("sqlstore: check terms: %w", err)
			}
			if count != int64(len(unique)) {
				return store.ErrTermNotFound
			}
		}

		if err := s.exec(ctx, tx, s.sb.Delete(tableRelationships).
			Where(sq.Eq{"entity_type": ref.Type, "entity_id": ref.ID, "taxonomy": taxonomy})); err != nil {
			return fmt.Errorf("sqlstore: clear terms: %w", err)
		}
		if len(termIDs) == 0 {
			return nil
		}

		insert := s.sb.Insert(tableRelationships).Columns("entity_type", "entity_id", "taxonomy", "term_id", "position")
		seen := make(map[int64]bool, len(termIDs))
		for i, id := range termIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			insert = insert.Values(ref.Type, ref.ID, taxonomy, id, i)
		}
		if err := s.exec(ctx, tx, insert); err != nil {
			return fmt.Errorf("sqlstore: assign terms: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) InsertTerm(ctx context.Context, taxonomy, name, slug string) (int64, error) {
	var id int64
	err := s.queryRow(ctx, s.db, s.sb.Insert(tableTerms).
		Columns("taxonomy", "name", "slug").
		Values(taxonomy, name, slug).
		Suffix("RETURNING id")).Scan(&id)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return 0, fmt.Errorf("sqlstore: term slug %q already exists in %s: %w", slug, taxonomy, err)
		}
		return 0, fmt.Errorf("sqlstore: insert term: %w", err)
	}
	return id, nil
}
