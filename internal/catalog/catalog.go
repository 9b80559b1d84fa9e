// Package catalog stores topic metadata (topics, message paths and the
// representations backing them) in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/pkg/models"
)

var jsonAPI = sonic.Config{UseInt64: true}.Froze()

// Catalog is a SQLite-backed topic catalog.
type Catalog struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the catalog database at dbPath.
func Open(dbPath string, logger zerolog.Logger) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// Limit connections for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Catalog{
		db:     db,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_time INTEGER,
		end_time INTEGER,
		default_representation_id TEXT
	);

	CREATE TABLE IF NOT EXISTS representations (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
		storage_format TEXT NOT NULL,
		association_type TEXT NOT NULL,
		association_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS message_paths (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		source_path TEXT NOT NULL,
		path_in_schema TEXT NOT NULL,
		data_type TEXT NOT NULL,
		canonical_data_type TEXT NOT NULL,
		metadata TEXT NOT NULL,
		UNIQUE (topic_id, path)
	);

	CREATE TABLE IF NOT EXISTS message_path_representations (
		message_path_id TEXT NOT NULL REFERENCES message_paths(id) ON DELETE CASCADE,
		representation_id TEXT NOT NULL REFERENCES representations(id) ON DELETE CASCADE,
		PRIMARY KEY (message_path_id, representation_id)
	);

	CREATE INDEX IF NOT EXISTS idx_topics_name ON topics(name);
	CREATE INDEX IF NOT EXISTS idx_message_paths_topic ON message_paths(topic_id);
	CREATE INDEX IF NOT EXISTS idx_representations_topic ON representations(topic_id);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// PutTopic inserts or replaces a topic and its message paths. Missing ids
// are generated.
func (c *Catalog) PutTopic(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = "tp_" + uuid.NewString()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var defaultRep sql.NullString
	if topic.DefaultRepresentation != nil {
		defaultRep = sql.NullString{String: topic.DefaultRepresentation.ID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO topics (id, name, start_time, end_time, default_representation_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			default_representation_id = excluded.default_representation_id`,
		topic.ID, topic.Name, nullableInt(topic.StartTime), nullableInt(topic.EndTime), defaultRep,
	)
	if err != nil {
		return fmt.Errorf("upsert topic %s: %w", topic.ID, err)
	}

	for i := range topic.MessagePaths {
		mp := &topic.MessagePaths[i]
		if err := mp.Validate(); err != nil {
			return err
		}
		if mp.ID == "" {
			mp.ID = "mp_" + uuid.NewString()
		}
		mp.TopicID = topic.ID
		if mp.SourcePath == "" {
			mp.SourcePath = mp.Path
		}
		if len(mp.PathInSchema) == 0 {
			mp.PathInSchema = models.Parts(mp.SourcePath)
		}

		pathInSchema, err := jsonAPI.Marshal(mp.PathInSchema)
		if err != nil {
			return fmt.Errorf("encode path_in_schema of %q: %w", mp.Path, err)
		}
		metadata, err := jsonAPI.Marshal(orEmpty(mp.Metadata))
		if err != nil {
			return fmt.Errorf("encode metadata of %q: %w", mp.Path, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_paths (id, topic_id, path, source_path, path_in_schema, data_type, canonical_data_type, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				path = excluded.path,
				source_path = excluded.source_path,
				path_in_schema = excluded.path_in_schema,
				data_type = excluded.data_type,
				canonical_data_type = excluded.canonical_data_type,
				metadata = excluded.metadata`,
			mp.ID, topic.ID, mp.Path, mp.SourcePath, string(pathInSchema),
			mp.DataType, string(mp.CanonicalDataType), string(metadata),
		)
		if err != nil {
			return fmt.Errorf("upsert message path %q: %w", mp.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit topic %s: %w", topic.ID, err)
	}
	return nil
}

// PutRepresentation records rep and links it to the message paths it backs.
func (c *Catalog) PutRepresentation(ctx context.Context, rep *models.Representation, messagePathIDs []string) error {
	if _, err := models.ParseStorageFormat(string(rep.StorageFormat)); err != nil {
		return err
	}
	if rep.ID == "" {
		rep.ID = "rp_" + uuid.NewString()
	}
	if rep.Version == 0 {
		rep.Version = 1
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO representations (id, topic_id, storage_format, association_type, association_id, version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			storage_format = excluded.storage_format,
			association_type = excluded.association_type,
			association_id = excluded.association_id,
			version = excluded.version`,
		rep.ID, rep.TopicID, string(rep.StorageFormat), string(rep.Association.Type), rep.Association.ID, rep.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert representation %s: %w", rep.ID, err)
	}

	for _, id := range messagePathIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_path_representations (message_path_id, representation_id)
			VALUES (?, ?)`, id, rep.ID)
		if err != nil {
			return fmt.Errorf("link message path %s to representation %s: %w", id, rep.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit representation %s: %w", rep.ID, err)
	}
	return nil
}

// Topic loads a topic with its message paths.
func (c *Catalog) Topic(ctx context.Context, topicID string) (models.Topic, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, start_time, end_time, default_representation_id
		FROM topics WHERE id = ?`, topicID)
	return c.scanTopic(ctx, row)
}

// TopicByName loads the topic named name.
func (c *Catalog) TopicByName(ctx context.Context, name string) (models.Topic, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, start_time, end_time, default_representation_id
		FROM topics WHERE name = ? ORDER BY id LIMIT 1`, name)
	return c.scanTopic(ctx, row)
}

func (c *Catalog) scanTopic(ctx context.Context, row *sql.Row) (models.Topic, error) {
	var (
		topic      models.Topic
		start, end sql.NullInt64
		defaultRep sql.NullString
	)
	if err := row.Scan(&topic.ID, &topic.Name, &start, &end, &defaultRep); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Topic{}, fmt.Errorf("%w: topic not found", models.ErrNotFound)
		}
		return models.Topic{}, fmt.Errorf("load topic: %w", err)
	}
	if start.Valid {
		topic.StartTime = &start.Int64
	}
	if end.Valid {
		topic.EndTime = &end.Int64
	}
	if defaultRep.Valid {
		rep, err := c.representation(ctx, defaultRep.String)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return models.Topic{}, err
		}
		if err == nil {
			topic.DefaultRepresentation = &rep
		}
	}

	paths, err := c.messagePaths(ctx, topic.ID)
	if err != nil {
		return models.Topic{}, err
	}
	topic.MessagePaths = paths
	return topic, nil
}

func (c *Catalog) messagePaths(ctx context.Context, topicID string) ([]models.MessagePath, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, topic_id, path, source_path, path_in_schema, data_type, canonical_data_type, metadata
		FROM message_paths WHERE topic_id = ? ORDER BY path`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query message paths: %w", err)
	}
	defer rows.Close()

	var paths []models.MessagePath
	for rows.Next() {
		var (
			mp                     models.MessagePath
			pathInSchema, metadata string
			canonical              string
		)
		if err := rows.Scan(&mp.ID, &mp.TopicID, &mp.Path, &mp.SourcePath, &pathInSchema,
			&mp.DataType, &canonical, &metadata); err != nil {
			return nil, fmt.Errorf("scan message path: %w", err)
		}
		mp.CanonicalDataType = models.CanonicalDataType(canonical)
		if err := jsonAPI.UnmarshalFromString(pathInSchema, &mp.PathInSchema); err != nil {
			return nil, fmt.Errorf("%w: path_in_schema of %q: %v", models.ErrMalformed, mp.Path, err)
		}
		if err := jsonAPI.UnmarshalFromString(metadata, &mp.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata of %q: %v", models.ErrMalformed, mp.Path, err)
		}
		paths = append(paths, mp)
	}
	return paths, rows.Err()
}

func (c *Catalog) representation(ctx context.Context, id string) (models.Representation, error) {
	var rep models.Representation
	var format, assocType string
	err := c.db.QueryRowContext(ctx, `
		SELECT id, topic_id, storage_format, association_type, association_id, version
		FROM representations WHERE id = ?`, id,
	).Scan(&rep.ID, &rep.TopicID, &format, &assocType, &rep.Association.ID, &rep.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return rep, fmt.Errorf("%w: representation %s", models.ErrNotFound, id)
	}
	if err != nil {
		return rep, fmt.Errorf("load representation %s: %w", id, err)
	}
	rep.StorageFormat = models.StorageFormat(format)
	rep.Association.Type = models.AssociationType(assocType)
	return rep, nil
}

// MessagePathGroups partitions a topic's message paths by the latest
// representation backing each. Paths without one fall back to the topic's
// default representation; paths with neither are left out.
func (c *Catalog) MessagePathGroups(ctx context.Context, topicID string) ([]models.MessagePathGroup, error) {
	topic, err := c.Topic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT mpr.message_path_id, r.id
		FROM message_path_representations mpr
		JOIN representations r ON r.id = mpr.representation_id
		JOIN message_paths mp ON mp.id = mpr.message_path_id
		WHERE mp.topic_id = ?
		ORDER BY r.version ASC, r.id ASC`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query representations: %w", err)
	}
	latest := make(map[string]string)
	for rows.Next() {
		var mpID, repID string
		if err := rows.Scan(&mpID, &repID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan representation link: %w", err)
		}
		latest[mpID] = repID
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make(map[string]*models.MessagePathGroup)
	reps := make(map[string]models.Representation)
	for _, mp := range topic.MessagePaths {
		repID, ok := latest[mp.ID]
		if !ok {
			if topic.DefaultRepresentation == nil {
				c.logger.Debug().
					Str("topic_id", topicID).
					Str("message_path", mp.Path).
					Msg("Message path has no representation, skipping")
				continue
			}
			repID = topic.DefaultRepresentation.ID
			reps[repID] = *topic.DefaultRepresentation
		}

		rep, ok := reps[repID]
		if !ok {
			rep, err = c.representation(ctx, repID)
			if err != nil {
				return nil, err
			}
			reps[repID] = rep
		}

		g, ok := groups[repID]
		if !ok {
			g = &models.MessagePathGroup{Representation: rep}
			groups[repID] = g
		}
		g.MessagePaths = append(g.MessagePaths, mp)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.MessagePathGroup, 0, len(ids))
	for _, id := range ids {
		out = append(out, *groups[id])
	}
	return out, nil
}

// Topics lists all topics without their message paths.
func (c *Catalog) Topics(ctx context.Context) ([]models.Topic, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, start_time, end_time FROM topics ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		var (
			t          models.Topic
			start, end sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Name, &start, &end); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if start.Valid {
			t.StartTime = &start.Int64
		}
		if end.Valid {
			t.EndTime = &end.Int64
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
