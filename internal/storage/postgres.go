/**
 * PostgreSQL Client for the notegroup worker
 *
 * Persists OCR fragments and text groups per image. Groups store member
 * fragment ids only (TEXT[]); members are rehydrated from the fragment
 * table or from fragments supplied by the caller.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS notegroup;

	CREATE TABLE IF NOT EXISTS notegroup.ocr_fragments (
		image_id    TEXT NOT NULL,
		fragment_id TEXT NOT NULL,
		position    INTEGER NOT NULL,
		text        TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		box_left    DOUBLE PRECISION NOT NULL,
		box_top     DOUBLE PRECISION NOT NULL,
		box_width   DOUBLE PRECISION NOT NULL,
		box_height  DOUBLE PRECISION NOT NULL,
		kind        TEXT NOT NULL,
		PRIMARY KEY (image_id, fragment_id)
	);

	CREATE TABLE IF NOT EXISTS notegroup.text_groups (
		id          UUID PRIMARY KEY,
		seq         BIGSERIAL,
		image_id    TEXT NOT NULL,
		box_left    DOUBLE PRECISION NOT NULL,
		box_top     DOUBLE PRECISION NOT NULL,
		box_width   DOUBLE PRECISION NOT NULL,
		box_height  DOUBLE PRECISION NOT NULL,
		confidence  NUMERIC(5,4) NOT NULL,
		origin      TEXT NOT NULL,
		member_ids  TEXT[] NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS text_groups_image_idx ON notegroup.text_groups (image_id, seq);
`

const upsertGroupSQL = `
	INSERT INTO notegroup.text_groups (
		id, image_id, box_left, box_top, box_width, box_height,
		confidence, origin, member_ids, created_at, updated_at
	) VALUES (
		$1::uuid, $2, $3, $4, $5, $6, $7::NUMERIC(5,4), $8, $9, NOW(), NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		image_id = EXCLUDED.image_id,
		box_left = EXCLUDED.box_left,
		box_top = EXCLUDED.box_top,
		box_width = EXCLUDED.box_width,
		box_height = EXCLUDED.box_height,
		confidence = EXCLUDED.confidence,
		origin = EXCLUDED.origin,
		member_ids = EXCLUDED.member_ids,
		updated_at = NOW()
`

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0] so it fits the NUMERIC(5,4) column.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the notegroup schema and tables if missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveFragments replaces the OCR fragments stored for an image
func (p *PostgresClient) SaveFragments(ctx context.Context, imageID string, fragments []grouping.TextFragment) error {
	if imageID == "" {
		return fmt.Errorf("image ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notegroup.ocr_fragments WHERE image_id = $1`, imageID); err != nil {
		return fmt.Errorf("failed to clear fragments (image=%s): %w", imageID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notegroup.ocr_fragments (
			image_id, fragment_id, position, text, confidence,
			box_left, box_top, box_width, box_height, kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare fragment insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range fragments {
		b := f.BoundingBox
		if _, err := stmt.ExecContext(ctx, imageID, f.ID, i, f.Text, f.Confidence,
			b.Left, b.Top, b.Width, b.Height, string(f.Kind)); err != nil {
			return fmt.Errorf("failed to insert fragment %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fragments (image=%s): %w", imageID, err)
	}
	return nil
}

// LoadFragments returns the OCR fragments of an image in OCR order
func (p *PostgresClient) LoadFragments(ctx context.Context, imageID string) ([]grouping.TextFragment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT fragment_id, text, confidence, box_left, box_top, box_width, box_height, kind
		FROM notegroup.ocr_fragments
		WHERE image_id = $1
		ORDER BY position
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var fragments []grouping.TextFragment
	for rows.Next() {
		var (
			f    grouping.TextFragment
			kind string
		)
		if err := rows.Scan(&f.ID, &f.Text, &f.Confidence,
			&f.BoundingBox.Left, &f.BoundingBox.Top, &f.BoundingBox.Width, &f.BoundingBox.Height, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		f.Kind = grouping.FragmentKind(kind)
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fragments: %w", err)
	}
	return fragments, nil
}

// SaveGroups replaces the automatic groups of an image in one transaction.
// Manual groups of the image are left untouched.
func (p *PostgresClient) SaveGroups(ctx context.Context, imageID string, groups []grouping.Group) ([]grouping.Group, error) {
	if imageID == "" {
		return nil, fmt.Errorf("image ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notegroup.text_groups WHERE image_id = $1 AND origin = $2`,
		imageID, string(grouping.OriginAuto)); err != nil {
		return nil, fmt.Errorf("failed to clear automatic groups (image=%s): %w", imageID, err)
	}

	stored := make([]grouping.Group, 0, len(groups))
	for _, g := range groups {
		g.Confidence = sanitizeConfidence(g.Confidence)
		if _, err := tx.ExecContext(ctx, upsertGroupSQL, groupArgs(imageID, g)...); err != nil {
			return nil, fmt.Errorf("failed to insert group %s: %w", g.ID, err)
		}
		stored = append(stored, g)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit groups (image=%s): %w", imageID, err)
	}
	return stored, nil
}

// LoadGroups returns every group of an image in insertion order. Members are
// resolved against fragments; with no fragments member lists are empty.
func (p *PostgresClient) LoadGroups(ctx context.Context, imageID string, fragments []grouping.TextFragment) ([]grouping.Group, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, box_left, box_top, box_width, box_height, confidence, origin, member_ids
		FROM notegroup.text_groups
		WHERE image_id = $1
		ORDER BY seq
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []grouping.Group
	for rows.Next() {
		var (
			g         grouping.Group
			origin    string
			memberIDs pq.StringArray
		)
		if err := rows.Scan(&g.ID,
			&g.BoundingBox.Left, &g.BoundingBox.Top, &g.BoundingBox.Width, &g.BoundingBox.Height,
			&g.Confidence, &origin, &memberIDs); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.Origin = grouping.Origin(origin)
		g.Members = hydrateMembers(memberIDs, fragments)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}
	return groups, nil
}

// SaveGroup upserts a single group by id
func (p *PostgresClient) SaveGroup(ctx context.Context, imageID string, group grouping.Group) (grouping.Group, error) {
	if group.ID == "" {
		return grouping.Group{}, fmt.Errorf("group ID is required")
	}

	group.Confidence = sanitizeConfidence(group.Confidence)
	if _, err := p.db.ExecContext(ctx, upsertGroupSQL, groupArgs(imageID, group)...); err != nil {
		return grouping.Group{}, fmt.Errorf("failed to upsert group (group=%s, image=%s): %w", group.ID, imageID, err)
	}
	return group, nil
}

// DeleteGroup removes a group and reports whether a row was deleted
func (p *PostgresClient) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM notegroup.text_groups WHERE id = $1::uuid`, groupID)
	if err != nil {
		return false, fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ImageOf returns the image a stored group belongs to
func (p *PostgresClient) ImageOf(ctx context.Context, groupID string) (string, bool, error) {
	var imageID string
	err := p.db.QueryRowContext(ctx,
		`SELECT image_id FROM notegroup.text_groups WHERE id = $1::uuid`, groupID).Scan(&imageID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up group %s: %w", groupID, err)
	}
	return imageID, true, nil
}

func groupArgs(imageID string, g grouping.Group) []interface{} {
	b := g.BoundingBox
	return []interface{}{
		g.ID,                    // $1 - id
		imageID,                 // $2 - image_id
		b.Left,                  // $3
		b.Top,                   // $4
		b.Width,                 // $5
		b.Height,                // $6
		g.Confidence,            // $7 - confidence (sanitized to 4 decimals)
		string(g.Origin),        // $8 - origin
		pq.Array(g.MemberIDs()), // $9 - member_ids
	}
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
