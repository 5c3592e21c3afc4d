package server

import (
	"context"
	"testing"
	"time"

	units "github.com/docker/go-units"
	"google.golang.org/grpc/codes"

	"github.com/izio7/tensorboard/src/export"
	"github.com/izio7/tensorboard/src/internal/blobstore"
	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/exportdb"
	"github.com/izio7/tensorboard/src/internal/pctx"
	"github.com/izio7/tensorboard/src/internal/require"
	"github.com/izio7/tensorboard/src/internal/stream"
)

type fakeStore struct {
	experiments map[string]*export.Experiment
	tags        map[string][]*Tag
	points      map[string][]Point

	lastAsOf time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		experiments: make(map[string]*export.Experiment),
		tags:        make(map[string][]*Tag),
		points:      make(map[string][]Point),
	}
}

func pointKey(experimentID, run, tag string) string {
	return experimentID + "/" + run + "/" + tag
}

func (s *fakeStore) GetExperiment(_ context.Context, asOf time.Time, experimentID string) (*export.Experiment, error) {
	s.lastAsOf = asOf
	e, ok := s.experiments[experimentID]
	if !ok {
		return nil, exportdb.ErrExperimentNotFound{ID: experimentID}
	}
	return e, nil
}

func (s *fakeStore) GetExperiments(_ context.Context, _ time.Time, experimentIDs []string) ([]*export.Experiment, error) {
	var out []*export.Experiment
	for _, id := range experimentIDs {
		if e, ok := s.experiments[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) ListTags(_ context.Context, _ time.Time, experimentID string) ([]*Tag, error) {
	return s.tags[experimentID], nil
}

func (s *fakeStore) ListPoints(_ context.Context, _ time.Time, experimentID, run, tag string) stream.Iterator[Point] {
	return &sliceIterator{points: s.points[pointKey(experimentID, run, tag)]}
}

type sliceIterator struct {
	points []Point
	i      int
}

func (it *sliceIterator) Next(ctx context.Context, dst *Point) error {
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	if it.i >= len(it.points) {
		return stream.EOS()
	}
	*dst = it.points[it.i]
	it.i++
	return nil
}

type fakeAuth struct {
	caller  string
	trusted map[string]bool
	users   map[string]bool
	owned   map[string][]string
}

func (a *fakeAuth) WhoAmI(context.Context) (string, error) {
	if a.caller == "" {
		return "", ErrNotAuthorized{Subject: "anyone"}
	}
	return a.caller, nil
}

func (a *fakeAuth) ResolveSubject(_ context.Context, caller, subject string) (string, error) {
	if caller == subject {
		return subject, nil
	}
	if !a.trusted[caller] {
		return "", ErrNotAuthorized{Caller: caller, Subject: subject}
	}
	if !a.users[subject] {
		return "", exportdb.ErrUserNotFound{ID: subject}
	}
	return subject, nil
}

func (a *fakeAuth) OwnedExperimentIDs(_ context.Context, _ time.Time, userID string) ([]string, error) {
	return a.owned[userID], nil
}

type expServer struct {
	ctx    context.Context
	sent   []*export.StreamExperimentsResponse
	onSend func()
}

func (s *expServer) Send(r *export.StreamExperimentsResponse) error {
	s.sent = append(s.sent, r)
	if s.onSend != nil {
		s.onSend()
	}
	return nil
}

func (s *expServer) Context() context.Context { return s.ctx }

type dataServer struct {
	ctx    context.Context
	sent   []*export.StreamExperimentDataResponse
	onSend func()
}

func (s *dataServer) Send(r *export.StreamExperimentDataResponse) error {
	s.sent = append(s.sent, r)
	if s.onSend != nil {
		s.onSend()
	}
	return nil
}

func (s *dataServer) Context() context.Context { return s.ctx }

type blobServer struct {
	ctx  context.Context
	sent []*export.BlobChunk
}

func (s *blobServer) Send(c *export.BlobChunk) error {
	s.sent = append(s.sent, c)
	return nil
}

func (s *blobServer) Context() context.Context { return s.ctx }

func newTestServer(caller string) (*APIServer, *fakeStore, *fakeAuth) {
	store := newFakeStore()
	auth := &fakeAuth{
		caller:  caller,
		trusted: make(map[string]bool),
		users:   make(map[string]bool),
		owned:   make(map[string][]string),
	}
	return &APIServer{Store: store, Blobs: blobstore.NewMemClient(), Auth: auth}, store, auth
}

func addExperiment(store *fakeStore, auth *fakeAuth, owner, id, name string) {
	store.experiments[id] = &export.Experiment{
		ID:         id,
		Name:       name,
		CreateTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		NumRuns:    1,
	}
	auth.owned[owner] = append(auth.owned[owner], id)
}

func requireCode(tb testing.TB, want codes.Code, err error) {
	tb.Helper()
	require.YesError(tb, err)
	st, ok := grpcStatus(err)
	require.True(tb, ok, "error %v should carry a status code", err)
	require.Equal(tb, want, st.Code())
}

func TestStreamExperiments(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	for _, id := range []string{"e1", "e2", "e3"} {
		addExperiment(store, auth, "alice", id, "name-"+id)
	}
	srv := &expServer{ctx: ctx}
	require.NoError(t, a.StreamExperiments(&export.StreamExperimentsRequest{
		ExperimentsMask: &export.ExperimentMask{Name: true},
	}, srv))
	var ids []string
	for _, resp := range srv.sent {
		require.True(t, len(resp.Experiments) > 0, "no batch may be empty")
		for _, e := range resp.Experiments {
			ids = append(ids, e.ID)
			require.Equal(t, "name-"+e.ID, e.Name)
			require.Equal(t, "", e.Description, "unmasked description should stay empty")
		}
	}
	require.ElementsEqual(t, []string{"e1", "e2", "e3"}, ids)
}

func TestStreamExperimentsManyBatches(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	var want []string
	for i := 0; i < 150; i++ {
		id := "exp-" + string(rune('a'+i/26)) + string(rune('a'+i%26))
		addExperiment(store, auth, "alice", id, id)
		want = append(want, id)
	}
	srv := &expServer{ctx: ctx}
	require.NoError(t, a.StreamExperiments(&export.StreamExperimentsRequest{}, srv))
	require.Equal(t, 3, len(srv.sent))
	var ids []string
	for _, resp := range srv.sent {
		ids = append(ids, resp.ExperimentIDs()...)
	}
	require.ElementsEqual(t, want, ids)
}

func TestStreamExperimentsLimit(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	for _, id := range []string{"e1", "e2", "e3"} {
		addExperiment(store, auth, "alice", id, id)
	}
	srv := &expServer{ctx: ctx}
	require.NoError(t, a.StreamExperiments(&export.StreamExperimentsRequest{Limit: 2}, srv))
	var total int
	for _, resp := range srv.sent {
		total += len(resp.Experiments)
	}
	require.Equal(t, 2, total)
}

func TestStreamExperimentsEmpty(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, _, _ := newTestServer("alice")
	srv := &expServer{ctx: ctx}
	require.NoError(t, a.StreamExperiments(&export.StreamExperimentsRequest{}, srv))
	require.Len(t, srv.sent, 0)
}

func TestStreamExperimentsSubjectOverride(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("exporter-service")
	auth.trusted["exporter-service"] = true
	auth.users["bob"] = true
	addExperiment(store, auth, "bob", "e1", "bobs")

	srv := &expServer{ctx: ctx}
	require.NoError(t, a.StreamExperiments(&export.StreamExperimentsRequest{UserID: "bob"}, srv))
	require.Len(t, srv.sent, 1)
	require.Equal(t, []string{"e1"}, srv.sent[0].ExperimentIDs())

	// An unknown subject fails before any stream element.
	srv = &expServer{ctx: ctx}
	err := a.StreamExperiments(&export.StreamExperimentsRequest{UserID: "nobody"}, srv)
	requireCode(t, codes.InvalidArgument, err)
	require.Len(t, srv.sent, 0)
}

func TestStreamExperimentsOverrideDenied(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	auth.users["bob"] = true
	addExperiment(store, auth, "bob", "e1", "bobs")
	srv := &expServer{ctx: ctx}
	err := a.StreamExperiments(&export.StreamExperimentsRequest{UserID: "bob"}, srv)
	requireCode(t, codes.PermissionDenied, err)
	require.Len(t, srv.sent, 0)
}

func TestStreamExperimentsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(pctx.TestContext(t))
	defer cancel()
	a, store, auth := newTestServer("alice")
	for i := 0; i < 2*experimentsPerBatch; i++ {
		addExperiment(store, auth, "alice", "exp-"+string(rune('a'+i/26))+string(rune('a'+i%26)), "x")
	}
	srv := &expServer{ctx: ctx, onSend: cancel}
	err := a.StreamExperiments(&export.StreamExperimentsRequest{}, srv)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, srv.sent, 1)
}

func TestGetExperiment(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	addExperiment(store, auth, "alice", "e1", "my experiment")
	store.experiments["e1"].Description = "about things"

	e, err := a.GetExperiment(ctx, &export.GetExperimentRequest{
		ExperimentID:    "e1",
		ExperimentsMask: &export.ExperimentMask{Name: true},
	})
	require.NoError(t, err)
	require.Equal(t, "e1", e.ID)
	require.Equal(t, "my experiment", e.Name)
	require.Equal(t, "", e.Description)

	_, err = a.GetExperiment(ctx, &export.GetExperimentRequest{})
	requireCode(t, codes.InvalidArgument, err)

	_, err = a.GetExperiment(ctx, &export.GetExperimentRequest{ExperimentID: "missing"})
	requireCode(t, codes.NotFound, err)
}

func TestStreamExperimentData(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	addExperiment(store, auth, "alice", "e1", "x")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.tags["e1"] = []*Tag{{
		Run:      "train",
		Name:     "loss",
		Metadata: &export.TagMetadata{DataClass: export.DataClassScalar, DisplayName: "loss"},
	}}
	store.points[pointKey("e1", "train", "loss")] = []Point{
		{Step: 0, WallTime: base, Scalar: 0.9},
		{Step: 5, WallTime: base.Add(5 * time.Second), Scalar: 0.4},
	}

	srv := &dataServer{ctx: ctx}
	require.NoError(t, a.StreamExperimentData(&export.StreamExperimentDataRequest{ExperimentID: "e1"}, srv))
	require.Len(t, srv.sent, 1)
	resp := srv.sent[0]
	require.Equal(t, "train", resp.RunName)
	require.Equal(t, "loss", resp.TagName)
	require.Equal(t, export.DataClassScalar, resp.TagMetadata.DataClass)
	sp := resp.Points.Scalar()
	require.NotNil(t, sp)
	require.Equal(t, []int64{0, 5}, sp.Steps)
	require.Equal(t, []time.Time{base, base.Add(5 * time.Second)}, sp.WallTimes)
	require.Equal(t, []float64{0.9, 0.4}, sp.Values)
}

func TestStreamExperimentDataBatchConcatenation(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	addExperiment(store, auth, "alice", "e1", "x")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.tags["e1"] = []*Tag{{
		Run:      "train",
		Name:     "loss",
		Metadata: &export.TagMetadata{DataClass: export.DataClassScalar},
	}}
	const n = 2*pointsPerBatch + pointsPerBatch/2
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{Step: int64(i), WallTime: base.Add(time.Duration(i) * time.Second), Scalar: float64(i)}
	}
	store.points[pointKey("e1", "train", "loss")] = points

	srv := &dataServer{ctx: ctx}
	require.NoError(t, a.StreamExperimentData(&export.StreamExperimentDataRequest{ExperimentID: "e1"}, srv))
	require.Len(t, srv.sent, 3)
	var steps []int64
	var values []float64
	for _, resp := range srv.sent {
		require.True(t, resp.Points.Len() > 0, "no batch may be empty")
		sp := resp.Points.Scalar()
		steps = append(steps, sp.Steps...)
		values = append(values, sp.Values...)
	}
	require.Len(t, steps, n)
	for i := 0; i < n; i++ {
		require.Equal(t, int64(i), steps[i])
		require.Equal(t, float64(i), values[i])
	}
}

func TestStreamExperimentDataMixedClasses(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	addExperiment(store, auth, "alice", "e1", "x")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.tags["e1"] = []*Tag{
		{Run: "train", Name: "weights", Metadata: &export.TagMetadata{DataClass: export.DataClassTensor}},
		{Run: "eval", Name: "images", Metadata: &export.TagMetadata{DataClass: export.DataClassBlobSequence}},
	}
	store.points[pointKey("e1", "train", "weights")] = []Point{
		{Step: 1, WallTime: base, Tensor: []byte{1, 2, 3}},
	}
	store.points[pointKey("e1", "eval", "images")] = []Point{
		{Step: 1, WallTime: base, BlobIDs: []string{"b1", "b2"}},
		{Step: 2, WallTime: base.Add(time.Second), BlobIDs: nil},
	}

	srv := &dataServer{ctx: ctx}
	require.NoError(t, a.StreamExperimentData(&export.StreamExperimentDataRequest{ExperimentID: "e1"}, srv))
	require.Len(t, srv.sent, 2)

	tp := srv.sent[0].Points.Tensor()
	require.NotNil(t, tp)
	require.Nil(t, srv.sent[0].Points.Scalar())
	require.Equal(t, [][]byte{{1, 2, 3}}, tp.Values)

	bp := srv.sent[1].Points.BlobSequence()
	require.NotNil(t, bp)
	require.Equal(t, []int64{1, 2}, bp.Steps)
	require.Equal(t, [][]string{{"b1", "b2"}, nil}, bp.Values)
}

func TestStreamExperimentDataEmptyAndNotFound(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	addExperiment(store, auth, "alice", "e1", "x")
	// A tag with no points in scope emits nothing.
	store.tags["e1"] = []*Tag{{Run: "train", Name: "loss", Metadata: &export.TagMetadata{DataClass: export.DataClassScalar}}}

	srv := &dataServer{ctx: ctx}
	require.NoError(t, a.StreamExperimentData(&export.StreamExperimentDataRequest{ExperimentID: "e1"}, srv))
	require.Len(t, srv.sent, 0)

	srv = &dataServer{ctx: ctx}
	err := a.StreamExperimentData(&export.StreamExperimentDataRequest{ExperimentID: "missing"}, srv)
	requireCode(t, codes.NotFound, err)
	require.Len(t, srv.sent, 0)

	srv = &dataServer{ctx: ctx}
	err = a.StreamExperimentData(&export.StreamExperimentDataRequest{}, srv)
	requireCode(t, codes.InvalidArgument, err)
}

func TestStreamExperimentDataCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(pctx.TestContext(t))
	defer cancel()
	a, store, auth := newTestServer("alice")
	addExperiment(store, auth, "alice", "e1", "x")
	store.tags["e1"] = []*Tag{{Run: "train", Name: "loss", Metadata: &export.TagMetadata{DataClass: export.DataClassScalar}}}
	points := make([]Point, 2*pointsPerBatch)
	for i := range points {
		points[i] = Point{Step: int64(i), Scalar: float64(i)}
	}
	store.points[pointKey("e1", "train", "loss")] = points

	srv := &dataServer{ctx: ctx, onSend: cancel}
	err := a.StreamExperimentData(&export.StreamExperimentDataRequest{ExperimentID: "e1"}, srv)
	requireCode(t, codes.Canceled, err)
	require.Len(t, srv.sent, 1)
}

func TestSnapshotThreading(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, store, auth := newTestServer("alice")
	addExperiment(store, auth, "alice", "e1", "x")
	// 1500ns past the microsecond; the stored snapshot must be truncated.
	at := time.Date(2024, 5, 2, 3, 4, 5, 1500, time.UTC)
	srv := &dataServer{ctx: ctx}
	require.NoError(t, a.StreamExperimentData(&export.StreamExperimentDataRequest{
		ExperimentID:  "e1",
		ReadTimestamp: at,
	}, srv))
	require.Equal(t, at.Truncate(time.Microsecond), store.lastAsOf)

	first := store.lastAsOf
	require.NoError(t, a.StreamExperimentData(&export.StreamExperimentDataRequest{
		ExperimentID:  "e1",
		ReadTimestamp: at,
	}, srv))
	require.Equal(t, first, store.lastAsOf, "the same read timestamp must resolve to the same snapshot")
}

func TestStreamBlobData(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, _, _ := newTestServer("alice")
	data := make([]byte, blobChunkSize+units.MiB)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	require.NoError(t, a.Blobs.Put(ctx, "b1", data))

	srv := &blobServer{ctx: ctx}
	require.NoError(t, a.StreamBlobData(&export.StreamBlobDataRequest{BlobID: "b1"}, srv))
	require.Len(t, srv.sent, 2)

	// Chunks tile the blob: each offset is the sum of prior lengths.
	var got []byte
	var finals int
	for _, c := range srv.sent {
		require.Equal(t, int64(len(got)), c.Offset)
		got = append(got, c.Data...)
		if c.FinalChunk {
			finals++
		}
	}
	require.Equal(t, 1, finals)
	require.Equal(t, data, got)
	last := srv.sent[len(srv.sent)-1]
	require.True(t, last.FinalChunk, "the last chunk must be the final chunk")
	require.NotNil(t, last.FinalCRC32C)
	require.Equal(t, blobstore.CRC32C(data), *last.FinalCRC32C)
}

func TestStreamBlobDataEmptyBlob(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, _, _ := newTestServer("alice")
	require.NoError(t, a.Blobs.Put(ctx, "empty", nil))

	srv := &blobServer{ctx: ctx}
	require.NoError(t, a.StreamBlobData(&export.StreamBlobDataRequest{BlobID: "empty"}, srv))
	require.Len(t, srv.sent, 1)
	require.True(t, srv.sent[0].FinalChunk)
	require.Len(t, srv.sent[0].Data, 0)
	require.NotNil(t, srv.sent[0].FinalCRC32C)
}

func TestStreamBlobDataNoChecksum(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, _, _ := newTestServer("alice")
	a.Blobs = blobstore.NewMemClient(blobstore.WithoutChecksums())
	require.NoError(t, a.Blobs.Put(ctx, "b1", []byte("hello")))

	srv := &blobServer{ctx: ctx}
	require.NoError(t, a.StreamBlobData(&export.StreamBlobDataRequest{BlobID: "b1"}, srv))
	require.Len(t, srv.sent, 1)
	require.True(t, srv.sent[0].FinalChunk)
	// A store that cannot supply a checksum yields a final chunk without one.
	require.Nil(t, srv.sent[0].FinalCRC32C)
}

func TestStreamBlobDataErrors(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, _, _ := newTestServer("alice")

	srv := &blobServer{ctx: ctx}
	err := a.StreamBlobData(&export.StreamBlobDataRequest{}, srv)
	requireCode(t, codes.InvalidArgument, err)

	err = a.StreamBlobData(&export.StreamBlobDataRequest{BlobID: "missing"}, srv)
	requireCode(t, codes.NotFound, err)
	require.Len(t, srv.sent, 0)
}

func TestStreamBlobDataCorrupted(t *testing.T) {
	ctx := pctx.TestContext(t)
	a, _, _ := newTestServer("alice")
	require.NoError(t, a.Blobs.Put(ctx, "b1", []byte("some blob bytes")))
	require.NoError(t, blobstore.Corrupt(a.Blobs, "b1"))

	srv := &blobServer{ctx: ctx}
	err := a.StreamBlobData(&export.StreamBlobDataRequest{BlobID: "b1"}, srv)
	requireCode(t, codes.DataLoss, err)
	// The failure signal is the absence of a final chunk.
	for _, c := range srv.sent {
		require.False(t, c.FinalChunk)
	}
}

func TestProjectExperiment(t *testing.T) {
	e := &export.Experiment{
		ID:          "e1",
		Name:        "n",
		Description: "d",
		CreateTime:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		NumRuns:     3,
		NumScalars:  100,
	}
	out := projectExperiment(e, nil)
	require.Equal(t, "e1", out.ID)
	require.Equal(t, e.CreateTime, out.CreateTime)
	require.Equal(t, "", out.Name)
	require.Equal(t, int64(0), out.NumRuns)

	mask := &export.ExperimentMask{Name: true, NumScalars: true}
	out = projectExperiment(e, mask)
	require.Equal(t, "n", out.Name)
	require.Equal(t, int64(100), out.NumScalars)
	require.Equal(t, "", out.Description)
	// Projection is idempotent under the same mask.
	require.Equal(t, out, projectExperiment(out, mask))
}

func TestResolveSnapshot(t *testing.T) {
	at := time.Date(2024, 5, 2, 3, 4, 5, 1500, time.FixedZone("x", 3600))
	got := resolveSnapshot(at)
	require.Equal(t, at.UTC().Truncate(time.Microsecond), got)
	require.Equal(t, time.UTC, got.Location())

	now := resolveSnapshot(time.Time{})
	require.False(t, now.IsZero())
	require.Equal(t, now, now.Truncate(time.Microsecond))
}

func TestPointBufferTensorBytes(t *testing.T) {
	buf := newPointBuffer(export.DataClassTensor)
	buf.add(Point{Step: 1, Tensor: make([]byte, tensorBytesPerBatch)})
	require.True(t, buf.full(), "a batch at the tensor byte bound must flush")
	data := buf.take()
	require.Equal(t, export.DataClassTensor, data.DataClass())
	require.Equal(t, 1, data.Len())
	require.True(t, buf.empty())
	require.False(t, buf.full())
}
