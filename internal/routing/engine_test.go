package routing

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		" +1 (555) 123-4567 ": "+15551234567",
		"+15551234567":        "+15551234567",
		"anonymous":           "",
		"":                    "",
		"+":                   "",
		"1+555":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestRouteInboundCall_ConnectsAndResolvesCustomer(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutNumber(NumberEntry{Number: "+15550000001", WorkspaceID: "ws1", Enabled: true, Destinations: []WeightedDestination{{TargetURI: "+15559990000", Weight: 1}}})
	dir.PutCustomer("ws1", "+15551112222", "cust-1")

	e := NewEngine(dir, rand.New(rand.NewSource(1)))
	d, err := e.RouteInboundCall(context.Background(), InboundCall{To: "+1 555 000 0001", From: "+15551112222"})
	require.NoError(t, err)
	assert.Equal(t, "ws1", d.WorkspaceID)
	assert.Equal(t, ActionConnect, d.Action)
	assert.Equal(t, "+15559990000", d.ConnectTo)
	require.NotNil(t, d.CustomerID)
	assert.Equal(t, "cust-1", *d.CustomerID)
}

func TestRouteInboundCall_CustomerLookupIsWorkspaceScoped(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutNumber(NumberEntry{Number: "+15550000001", WorkspaceID: "ws1", Enabled: true})
	dir.PutCustomer("ws2", "+15551112222", "cust-other")

	d, err := NewEngine(dir, nil).RouteInboundCall(context.Background(), InboundCall{To: "+15550000001", From: "+15551112222"})
	require.NoError(t, err)
	assert.Nil(t, d.CustomerID)
	assert.Equal(t, ActionHangup, d.Action)
}

func TestRouteInboundCall_DisabledAndUnknownNumbers(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutNumber(NumberEntry{Number: "+15550000001", WorkspaceID: "ws1", Enabled: false, Destinations: []WeightedDestination{{TargetURI: "+15559990000", Weight: 1}}})
	e := NewEngine(dir, nil)

	d, err := e.RouteInboundCall(context.Background(), InboundCall{To: "+15550000001"})
	require.NoError(t, err)
	assert.Equal(t, ActionReject, d.Action)

	_, err = e.RouteInboundCall(context.Background(), InboundCall{To: "+15550000009"})
	assert.ErrorIs(t, err, ErrUnknownNumber)

	_, err = e.RouteInboundCall(context.Background(), InboundCall{To: "anonymous"})
	assert.ErrorIs(t, err, ErrUnknownNumber)
}

func TestPickDestination_SkipsInvalidWeights(t *testing.T) {
	e := NewEngine(NewMemoryDirectory(), rand.New(rand.NewSource(7)))
	for i := 0; i < 20; i++ {
		dest, ok := e.pickDestination([]WeightedDestination{
			{TargetURI: "+1000", Weight: 0},
			{TargetURI: "", Weight: 5},
			{TargetURI: "sip:agent@pbx.example.com", Weight: 2},
		})
		require.True(t, ok)
		assert.Equal(t, "sip:agent@pbx.example.com", dest)
	}
	_, ok := e.pickDestination(nil)
	assert.False(t, ok)
}

type failingDirectory struct{ *MemoryDirectory }

func (f *failingDirectory) LookupCustomer(ctx context.Context, workspaceID, phone string) (string, error) {
	return "", errors.New("db down")
}

func TestRouteInboundCall_CustomerLookupFailurePropagates(t *testing.T) {
	dir := &failingDirectory{MemoryDirectory: NewMemoryDirectory()}
	dir.PutNumber(NumberEntry{Number: "+15550000001", WorkspaceID: "ws1", Enabled: true})

	_, err := NewEngine(dir, nil).RouteInboundCall(context.Background(), InboundCall{To: "+15550000001", From: "+15551112222"})
	assert.EqualError(t, err, "db down")
}

func TestPostgresDirectory_LookupNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT number, workspace_id, enabled FROM phone_numbers WHERE number = $1")).
		WithArgs("+15550000001").
		WillReturnRows(sqlmock.NewRows([]string{"number", "workspace_id", "enabled"}).AddRow("+15550000001", "ws1", true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_number_destinations")).
		WithArgs("+15550000001").
		WillReturnRows(sqlmock.NewRows([]string{"target_uri", "weight"}).AddRow("+15559990000", 3))

	n, err := NewPostgresDirectory(db).LookupNumber(context.Background(), "+15550000001")
	require.NoError(t, err)
	assert.Equal(t, "ws1", n.WorkspaceID)
	assert.True(t, n.Enabled)
	assert.Equal(t, []WeightedDestination{{TargetURI: "+15559990000", Weight: 3}}, n.Destinations)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_Misses(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	dir := NewPostgresDirectory(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_numbers")).
		WillReturnRows(sqlmock.NewRows([]string{"number", "workspace_id", "enabled"}))
	_, err = dir.LookupNumber(context.Background(), "+15550000009")
	assert.ErrorIs(t, err, ErrUnknownNumber)

	mock.ExpectQuery(regexp.QuoteMeta("FROM customers")).
		WithArgs("ws1", "+15551112222").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = dir.LookupCustomer(context.Background(), "ws1", "+15551112222")
	assert.ErrorIs(t, err, ErrNoCustomer)
}

func TestDestinationFor(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutNumber(NumberEntry{Number: "+15550000001", WorkspaceID: "ws1", Enabled: true, Destinations: []WeightedDestination{{TargetURI: "+15559990000", Weight: 1}}})
	dir.PutNumber(NumberEntry{Number: "+15550000002", WorkspaceID: "ws1", Enabled: true})
	e := NewEngine(dir, nil)

	dest, err := e.DestinationFor(context.Background(), "ws1", "+15550000001")
	require.NoError(t, err)
	assert.Equal(t, "+15559990000", dest)

	_, err = e.DestinationFor(context.Background(), "ws2", "+15550000001")
	assert.ErrorIs(t, err, ErrUnknownNumber)

	_, err = e.DestinationFor(context.Background(), "ws1", "+15550000002")
	assert.ErrorIs(t, err, ErrNoDestination)
}
