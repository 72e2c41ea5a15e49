package neo4j

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/mock"
)

type mockDriverConn struct{ mock.Mock }

func (m *mockDriverConn) VerifyConnectivity(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockDriverConn) NewSession(ctx context.Context, cfg neo4j.SessionConfig) session {
	return m.Called(ctx, cfg).Get(0).(session)
}

func (m *mockDriverConn) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// mockSession runs work against tx and returns workErr instead of the work
// result when set.
type mockSession struct {
	mock.Mock
	tx      *mockTx
	workErr error
}

func (m *mockSession) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	m.Called(ctx)
	return m.run(work)
}

func (m *mockSession) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	m.Called(ctx)
	return m.run(work)
}

func (m *mockSession) run(work TransactionWork) (any, error) {
	out, err := work(m.tx)
	if m.workErr != nil {
		return nil, m.workErr
	}
	return out, err
}

func (m *mockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockTx struct{ mock.Mock }

func (m *mockTx) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	args := m.Called(ctx, cypher, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Result), args.Error(1)
}

type sliceResult struct {
	records []*neo4j.Record
	pos     int
	err     error
}

func (r *sliceResult) Next(context.Context) bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *sliceResult) Record() *neo4j.Record { return r.records[r.pos-1] }
func (r *sliceResult) Err() error            { return r.err }
func (r *sliceResult) Consume(context.Context) (neo4j.ResultSummary, error) {
	return nil, nil
}

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func newMockDriver(mode neo4j.AccessMode) (*Driver, *mockDriverConn, *mockSession) {
	conn := &mockDriverConn{}
	sess := &mockSession{tx: &mockTx{}}
	conn.On("NewSession", mock.Anything, neo4j.SessionConfig{DatabaseName: "graph", AccessMode: mode}).Return(sess)
	sess.On("ExecuteRead", mock.Anything).Return()
	sess.On("ExecuteWrite", mock.Anything).Return()
	sess.On("Close", mock.Anything).Return(nil)
	return newDriver(conn, "graph", nil), conn, sess
}
