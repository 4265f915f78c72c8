package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"stagekit/content"
)

func (s *Store) GetEditLockHolder(ctx context.Context, ref content.EntityRef) (int64, bool, error) {
	var holder, lockedAt int64
	err := s.queryRow(ctx, s.db, s.sb.Select("holder", "locked_at_ns").From(tableEditLocks).
		Where(sq.Eq{"entity_type": ref.Type, "entity_id": ref.ID})).Scan(&holder, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: get edit lock: %w", err)
	}
	if s.now().Sub(time.Unix(0, lockedAt)) > s.lockTTL {
		return 0, false, nil
	}
	return holder, true, nil
}

func (s *Store) SetEditLock(ctx context.Context, ref content.EntityRef, actor int64) error {
	insert := s.sb.Insert(tableEditLocks).
		Columns("entity_type", "entity_id", "holder", "locked_at_ns").
		Values(ref.Type, ref.ID, actor, s.now().UTC().UnixNano()).
		Suffix(s.dialect.UpsertSuffix([]string{"entity_type", "entity_id"}, []string{"holder", "locked_at_ns"}))
	if err := s.exec(ctx, s.db, insert); err != nil {
		return fmt.Errorf("sqlstore: set edit lock: %w", err)
	}
	return nil
}
