package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// pingTimeout bounds the connectivity check in Open.
const pingTimeout = 5 * time.Second

// codeNamespaceExists is returned by create on an existing collection.
const codeNamespaceExists = 48

var searchWords = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Backend implements connector.Backend over one MongoDB database.
type Backend struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
	newID  func() string
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for commands and storage events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithIDGenerator replaces the generator of ids, which must be ObjectID
// hex strings.
func WithIDGenerator(fn func() string) Option {
	return func(b *Backend) { b.newID = fn }
}

func newObjectID() string {
	return primitive.NewObjectID().Hex()
}

// Open connects to uri and verifies the connection. database names the
// database holding every collection.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Backend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("open mongodb: %w", err)
	}
	b := New(client, database, opts...)
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := b.Ping(pctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return b, nil
}

// New wraps a connected client.
func New(client *mongo.Client, database string, opts ...Option) *Backend {
	b := &Backend{
		client: client,
		db:     client.Database(database),
		logger: slog.Default(),
		newID:  newObjectID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns types.BackendMongoDB.
func (b *Backend) Name() string { return types.BackendMongoDB }

// Ping verifies the connection against the primary.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (b *Backend) Close() error {
	return b.client.Disconnect(context.Background())
}

// EnsureStorage creates the collection and its indexes. A collection can
// carry a single text index; further text indexes are skipped with a
// warning.
func (b *Backend) EnsureStorage(ctx context.Context, d *entity.Descriptor, name string) error {
	if err := b.db.CreateCollection(ctx, name); err != nil {
		var ce mongo.CommandError
		if !errors.As(err, &ce) || ce.Code != codeNamespaceExists {
			return fmt.Errorf("create %s: %w", name, err)
		}
		b.logger.Debug("collection exists", "storage", name)
	}

	var models []mongo.IndexModel
	text, _ := textIndex(d)
	for _, idx := range d.Indexes {
		var keys bson.D
		for _, f := range idx.Fields {
			if p, ok := d.Lookup(f); ok {
				dir := any(1)
				if idx.Kind == entity.Text {
					dir = "text"
				}
				keys = append(keys, bson.E{Key: fieldName(p), Value: dir})
			}
		}
		if len(keys) == 0 || (len(keys) == 1 && keys[0].Key == idField) {
			continue
		}
		opts := options.Index().SetName(idx.Name)
		switch idx.Kind {
		case entity.Unique:
			opts.SetUnique(true)
		case entity.Text:
			if idx.Name != text.Name {
				b.logger.Warn("second text index skipped", "storage", name, "index", idx.Name, "kept", text.Name)
				continue
			}
			opts.SetDefaultLanguage("none")
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	if len(models) > 0 {
		if _, err := b.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	b.logger.Info("storage ready", "backend", b.Name(), "storage", name)
	return nil
}

// DropStorage drops the collection and its indexes.
func (b *Backend) DropStorage(ctx context.Context, name string) error {
	if err := b.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	b.logger.Info("storage dropped", "backend", b.Name(), "storage", name)
	return nil
}

// RunFind returns the matching documents.
func (b *Backend) RunFind(ctx context.Context, d *entity.Descriptor, name string, cond expr.Condition, page *types.PageRequest) ([]entity.Record, *int64, error) {
	f, err := filter(d, cond)
	if err != nil {
		return nil, nil, err
	}
	opts, err := findOptions(d, page, nil)
	if err != nil {
		return nil, nil, err
	}
	return b.find(ctx, d, name, f, opts, page)
}

func (b *Backend) find(ctx context.Context, d *entity.Descriptor, name string, f bson.D, opts *options.FindOptions, page *types.PageRequest) ([]entity.Record, *int64, error) {
	coll := b.db.Collection(name)
	b.logger.Debug("find", "storage", name, "filter", f)
	cur, err := coll.Find(ctx, f, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("find %s: %w", name, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, nil, fmt.Errorf("find %s: %w", name, err)
	}
	recs := make([]entity.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := record(d, doc)
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, rec)
	}
	if !page.Total() {
		return recs, nil, nil
	}
	total, err := coll.CountDocuments(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("count %s: %w", name, err)
	}
	return recs, &total, nil
}

// findOptions applies sort, skip and limit. fallback orders the results
// when the page has no sort.
func findOptions(d *entity.Descriptor, page *types.PageRequest, fallback bson.D) (*options.FindOptions, error) {
	opts := options.Find()
	sort, err := sortDoc(d, page.Sorts())
	if err != nil {
		return nil, err
	}
	if len(sort) == 0 {
		sort = fallback
	}
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if page.Paged() {
		opts.SetSkip(int64(page.Offset())).SetLimit(int64(page.PageSize))
	}
	return opts, nil
}

// RunCreate inserts rec, generating an ObjectID when the id is generated
// and missing.
func (b *Backend) RunCreate(ctx context.Context, d *entity.Descriptor, name string, rec entity.Record) (entity.Record, error) {
	out := make(entity.Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	if d.ID != nil && d.ID.Generated {
		if id, ok := out[d.ID.Name]; !ok || id == nil || reflect.ValueOf(id).IsZero() {
			out[d.ID.Name] = b.newID()
		}
	}

	doc := make(bson.D, 0, len(out))
	for _, p := range d.Stored() {
		v, ok := out[p.Name]
		if !ok {
			continue
		}
		enc, err := value(p, v)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: fieldName(p), Value: enc})
	}
	b.logger.Debug("insert", "storage", name)
	if _, err := b.db.Collection(name).InsertOne(ctx, doc); err != nil {
		return nil, b.writeError("create", name, err)
	}
	return out, nil
}

// RunConditionalUpdate updates every matching document.
func (b *Backend) RunConditionalUpdate(ctx context.Context, d *entity.Descriptor, name string, cond expr.Condition, patches []patch.Patch) (int64, error) {
	upd, err := update(d, patches)
	if err != nil {
		return 0, err
	}
	f, err := filter(d, cond)
	if err != nil {
		return 0, err
	}
	b.logger.Debug("update", "storage", name, "filter", f, "update", upd)
	res, err := b.db.Collection(name).UpdateMany(ctx, f, upd)
	if err != nil {
		return 0, b.writeError("update", name, err)
	}
	return res.MatchedCount, nil
}

// RunPatchOne patches the first match in sort order with FindOneAndUpdate.
func (b *Backend) RunPatchOne(ctx context.Context, d *entity.Descriptor, name string, cond expr.Condition, sort []types.Sort, patches []patch.Patch) (entity.Record, error) {
	upd, err := update(d, patches)
	if err != nil {
		return nil, err
	}
	f, err := filter(d, cond)
	if err != nil {
		return nil, err
	}
	s, err := sortDoc(d, sort)
	if err != nil {
		return nil, err
	}
	return b.findOneAndUpdate(ctx, d, name, f, s, upd)
}

func (b *Backend) findOneAndUpdate(ctx context.Context, d *entity.Descriptor, name string, f, sort, upd bson.D) (entity.Record, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	b.logger.Debug("find and update", "storage", name, "filter", f, "update", upd)
	var doc bson.M
	err := b.db.Collection(name).FindOneAndUpdate(ctx, f, upd, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, b.writeError("patch", name, err)
	}
	return record(d, doc)
}

// RunPatchManyAtomic selects the matching ids, then patches each document
// with a filter on its id and cond, so documents that stopped matching are
// skipped.
func (b *Backend) RunPatchManyAtomic(ctx context.Context, d *entity.Descriptor, name string, cond expr.Condition, page *types.PageRequest, patches []patch.Patch) ([]entity.Record, error) {
	if d.ID == nil {
		return nil, fmt.Errorf("%w: patch many on %s", types.ErrMissingIDProperty, d.StorageName)
	}
	upd, err := update(d, patches)
	if err != nil {
		return nil, err
	}
	f, err := filter(d, cond)
	if err != nil {
		return nil, err
	}
	ids, err := b.selectIDs(ctx, d, name, f, page)
	if err != nil {
		return nil, err
	}
	var out []entity.Record
	for _, id := range ids {
		rf := bson.D{{Key: idField, Value: id}}
		if len(f) > 0 {
			rf = bson.D{{Key: "$and", Value: bson.A{rf, f}}}
		}
		rec, err := b.findOneAndUpdate(ctx, d, name, rf, nil, upd)
		if err != nil {
			return out, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RunPatchManyNonAtomic patches every match with UpdateMany. A page
// restricts the update to the ids of that page.
func (b *Backend) RunPatchManyNonAtomic(ctx context.Context, d *entity.Descriptor, name string, cond expr.Condition, page *types.PageRequest, patches []patch.Patch) (int64, error) {
	upd, err := update(d, patches)
	if err != nil {
		return 0, err
	}
	f, err := filter(d, cond)
	if err != nil {
		return 0, err
	}
	if page.Paged() {
		if d.ID == nil {
			return 0, fmt.Errorf("%w: paged patch on %s", types.ErrMissingIDProperty, d.StorageName)
		}
		ids, err := b.selectIDs(ctx, d, name, f, page)
		if err != nil {
			return 0, err
		}
		f = bson.D{{Key: idField, Value: bson.D{{Key: "$in", Value: ids}}}}
	}
	b.logger.Debug("update", "storage", name, "filter", f, "update", upd)
	res, err := b.db.Collection(name).UpdateMany(ctx, f, upd)
	if err != nil {
		return 0, b.writeError("patch", name, err)
	}
	return res.ModifiedCount, nil
}

// RunDelete removes the matching documents.
func (b *Backend) RunDelete(ctx context.Context, d *entity.Descriptor, name string, cond expr.Condition) (int64, error) {
	f, err := filter(d, cond)
	if err != nil {
		return 0, err
	}
	b.logger.Debug("delete", "storage", name, "filter", f)
	res, err := b.db.Collection(name).DeleteMany(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", name, err)
	}
	return res.DeletedCount, nil
}

// textIndex returns the text index a collection carries: MongoDB allows one,
// so only the first declared is created.
func textIndex(d *entity.Descriptor) (entity.Index, bool) {
	for _, idx := range d.Indexes {
		if idx.Kind == entity.Text {
			return idx, true
		}
	}
	return entity.Index{}, false
}

// RunTextSearch runs a $text query requiring every word of query. Results
// are ordered by the page's sort or, without one, by text score. idx must
// be the collection's text index.
func (b *Backend) RunTextSearch(ctx context.Context, d *entity.Descriptor, name string, idx entity.Index, query string, page *types.PageRequest) ([]entity.Record, *int64, error) {
	if text, ok := textIndex(d); !ok || text.Name != idx.Name {
		return nil, nil, fmt.Errorf("%w: %q is not the text index of %s", types.ErrUnknownIndex, idx.Name, name)
	}
	words := searchWords.FindAllString(query, -1)
	if len(words) == 0 {
		if page.Total() {
			var zero int64
			return nil, &zero, nil
		}
		return nil, nil, nil
	}
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	f := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: strings.Join(words, " ")}}}}
	score := bson.D{{Key: "$meta", Value: "textScore"}}
	opts, err := findOptions(d, page, bson.D{{Key: scoreField, Value: score}})
	if err != nil {
		return nil, nil, err
	}
	opts.SetProjection(bson.D{{Key: scoreField, Value: score}})
	return b.find(ctx, d, name, f, opts, page)
}

// selectIDs returns the ids of the documents matching f within page.
func (b *Backend) selectIDs(ctx context.Context, d *entity.Descriptor, name string, f bson.D, page *types.PageRequest) (bson.A, error) {
	opts, err := findOptions(d, page, nil)
	if err != nil {
		return nil, err
	}
	opts.SetProjection(bson.D{{Key: idField, Value: 1}})
	cur, err := b.db.Collection(name).Find(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", name, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("select %s: %w", name, err)
	}
	ids := make(bson.A, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc[idField])
	}
	return ids, nil
}

// writeError maps uniqueness violations to types.ErrDuplicatedKey.
func (b *Backend) writeError(op, name string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		b.logger.Warn("duplicate key", "backend", b.Name(), "storage", name, "error", err)
		return fmt.Errorf("%w: %s %s: %v", types.ErrDuplicatedKey, op, name, err)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}
