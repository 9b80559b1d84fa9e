package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/roboto-ai/topicdata/internal/cache"
	"github.com/roboto-ai/topicdata/internal/columnar"
	"github.com/roboto-ai/topicdata/internal/config"
	"github.com/roboto-ai/topicdata/internal/logger"
	"github.com/roboto-ai/topicdata/internal/timeunit"
	"github.com/roboto-ai/topicdata/pkg/models"
	"github.com/roboto-ai/topicdata/pkg/topicdata"
)

// listFlag collects repeated and comma-separated values.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// parseTime accepts epoch nanoseconds or an RFC 3339 timestamp. Empty means
// unbounded.
func parseTime(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &ns, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is neither epoch nanoseconds nor RFC 3339", models.ErrInvalidArgument, s)
	}
	ns := timeunit.FromTime(t)
	return &ns, nil
}

func parseUnit(s string) (timeunit.Unit, error) {
	if s == "" {
		return "", nil
	}
	u, err := timeunit.ParseUnit(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return u, nil
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return nil
}

func newEncoder(w io.Writer) sonic.Encoder {
	return sonic.ConfigDefault.NewEncoder(w)
}

func runQuery(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	topicID := fs.String("topic", "", "Topic id")
	topicName := fs.String("topic-name", "", "Topic name, looked up in the catalog")
	path := fs.String("path", "", "Read a single message path")
	var include, exclude listFlag
	fs.Var(&include, "include", "Message path to keep, with descendants (repeatable)")
	fs.Var(&exclude, "exclude", "Message path to drop, with descendants (repeatable)")
	start := fs.String("start", "", "Inclusive lower log time bound (epoch ns or RFC 3339)")
	end := fs.String("end", "", "Exclusive upper log time bound (epoch ns or RFC 3339)")
	unit := fs.String("unit", e.cfg.Columnar.OutputUnit, "Log time unit of columnar results (s, ms, us, ns)")
	tsUnit := fs.String("timestamp-unit", "", "Unit the columnar timestamp column is stored in")
	table := fs.Bool("table", false, "Emit flattened table rows with an epoch-ns index")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	q := topicdata.Query{
		TopicID: *topicID,
		Include: include,
		Exclude: exclude,
	}
	var err error
	if q.LogTimeUnit, err = parseUnit(*unit); err != nil {
		return err
	}
	if q.TimestampUnit, err = parseUnit(*tsUnit); err != nil {
		return err
	}
	if q.Start, err = parseTime(*start); err != nil {
		return err
	}
	if q.End, err = parseTime(*end); err != nil {
		return err
	}

	svc, cat, err := e.openService(ctx)
	if err != nil {
		return err
	}
	if q.TopicID == "" {
		if *topicName == "" {
			return fmt.Errorf("%w: -topic or -topic-name is required", models.ErrInvalidArgument)
		}
		topic, err := cat.TopicByName(ctx, *topicName)
		if err != nil {
			return err
		}
		q.TopicID = topic.ID
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	enc := newEncoder(out)

	if *table {
		tbl, err := svc.GetDataAsTable(ctx, q)
		if err != nil {
			return err
		}
		for i := range tbl.Len() {
			row := tbl.Row(i)
			row["index"] = tbl.Index[i]
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	}

	records := svc.GetData(ctx, q)
	if *path != "" {
		records = svc.GetMessagePathData(ctx, q.TopicID, *path, q.Start, q.End)
	}
	for rec, err := range records {
		if err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func runTopics(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("topics", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cat, err := e.openCatalog()
	if err != nil {
		return err
	}
	topics, err := cat.Topics(ctx)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	enc := newEncoder(out)
	for _, t := range topics {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return nil
}

func runRegister(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	file := fs.String("file", "", "Parquet file to register")
	name := fs.String("name", "", "Topic name (default: file name without extension)")
	tsField := fs.String("timestamp", "", "Timestamp column (default: first timezone-aware timestamp)")
	rewrite := fs.Bool("rewrite", true, "Rewrite the file first when its layout defeats row group pruning")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", models.ErrInvalidArgument)
	}
	if *name == "" {
		*name = strings.TrimSuffix(filepath.Base(*file), filepath.Ext(*file))
	}
	cat, err := e.openCatalog()
	if err != nil {
		return err
	}
	be, err := e.openBackend(ctx)
	if err != nil {
		return err
	}

	l := logger.Get("register")
	src := *file
	store, err := columnar.Open(src, columnar.WithLogger(l), columnar.WithMetrics(e.metrics))
	if err != nil {
		return err
	}
	defer func() {
		if store != nil {
			store.Close()
		}
	}()

	if *rewrite {
		needs, err := store.RequiresRewrite(*tsField)
		if err != nil {
			return err
		}
		if needs {
			tmp, err := rewriteToTemp(ctx, store, *tsField, e.cfg.Columnar.RewriteTargetBytes)
			if err != nil {
				return err
			}
			defer os.Remove(tmp)
			store.Close()
			if store, err = columnar.Open(tmp, columnar.WithLogger(l), columnar.WithMetrics(e.metrics)); err != nil {
				return err
			}
			src = tmp
		}
	}

	info, err := store.ExtractTimestampBounds(ctx, *tsField, "")
	if err != nil {
		return err
	}
	paths, err := store.DescribeFields(ctx, info.Field)
	if err != nil {
		return err
	}

	fileID := "fl_" + uuid.NewString()
	if err := upload(ctx, be, fileID, src); err != nil {
		return err
	}

	startNs, endNs := info.StartNanos(), info.EndNanos()
	topic := models.Topic{
		Name:         *name,
		MessagePaths: paths,
		StartTime:    &startNs,
		EndTime:      &endNs,
	}
	if err := cat.PutTopic(ctx, &topic); err != nil {
		return err
	}
	ids := make([]string, len(topic.MessagePaths))
	for i, mp := range topic.MessagePaths {
		ids[i] = mp.ID
	}
	rep := models.Representation{
		TopicID:       topic.ID,
		StorageFormat: models.StorageFormatParquet,
		Association:   models.Association{Type: models.AssociationFile, ID: fileID},
	}
	if err := cat.PutRepresentation(ctx, &rep, ids); err != nil {
		return err
	}
	topic.DefaultRepresentation = &rep
	if err := cat.PutTopic(ctx, &topic); err != nil {
		return err
	}

	l.Info().
		Str("topic_id", topic.ID).
		Str("topic_name", topic.Name).
		Str("file_id", fileID).
		Int("message_paths", len(paths)).
		Int64("rows", store.RowCount()).
		Msg("Registered topic")
	return newEncoder(os.Stdout).Encode(topic)
}

func runRewrite(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("rewrite", flag.ContinueOnError)
	in := fs.String("in", "", "Parquet file to rewrite")
	out := fs.String("out", "", "Destination file")
	tsField := fs.String("timestamp", "", "Timestamp column (default: first timezone-aware timestamp)")
	target := fs.String("target-size", "", "Row group size to aim for (default: columnar.rewrite_target_size)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("%w: -in and -out are required", models.ErrInvalidArgument)
	}
	targetBytes := e.cfg.Columnar.RewriteTargetBytes
	if *target != "" {
		n, err := config.ParseSize(*target)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: -target-size %q", models.ErrInvalidArgument, *target)
		}
		targetBytes = n
	}

	store, err := columnar.Open(*in, columnar.WithLogger(logger.Get("rewrite")), columnar.WithMetrics(e.metrics))
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := store.Rewrite(ctx, f, *tsField, targetBytes); err != nil {
		f.Close()
		os.Remove(*out)
		return err
	}
	return f.Close()
}

func runSweep(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	retention := fs.Duration("retention", e.cfg.Cache.Retention, "Remove files not accessed for this long")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *retention <= 0 {
		return fmt.Errorf("%w: -retention must be positive", models.ErrInvalidArgument)
	}
	c, err := cache.New(e.cfg.Cache.Dir,
		cache.WithRetention(*retention),
		cache.WithMetrics(e.metrics),
		cache.WithLogger(logger.Get("sweep")),
	)
	if err != nil {
		return err
	}
	removed, err := c.Sweep()
	if err != nil {
		return err
	}
	log.Info().Str("dir", c.Dir()).Int("removed", removed).Msg("Cache swept")
	return nil
}

func rewriteToTemp(ctx context.Context, store *columnar.Store, tsField string, targetBytes int64) (string, error) {
	f, err := os.CreateTemp("", "topicdata-rewrite-*.parquet")
	if err != nil {
		return "", err
	}
	if err := store.Rewrite(ctx, f, tsField, targetBytes); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

type uploader interface {
	WriteReader(ctx context.Context, key string, r io.Reader, size int64) error
}

func upload(ctx context.Context, dst uploader, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if err := dst.WriteReader(ctx, key, f, st.Size()); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
