package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"giveaway_ref_bot/store"
)

// fakeSheet реализует минимум Values API: get, update и append для одного листа
type fakeSheet struct {
	mu    sync.Mutex
	grid  [][]interface{} // grid[0] — строка 1
	calls map[string]int
}

var rangeRe = regexp.MustCompile(`^'?[^'!]+'?!([A-Z]+)(\d*)(?::([A-Z]+)(\d*))?$`)

func parseRange(r string) (from, to int) {
	m := rangeRe.FindStringSubmatch(r)
	if m == nil {
		return 1, 0
	}
	from, to = 1, 0
	if m[2] != "" {
		from, _ = strconv.Atoi(m[2])
	}
	if m[4] != "" {
		to, _ = strconv.Atoi(m[4])
	}
	return from, to
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, rest, ok := strings.Cut(r.URL.Path, "/values/")
	if !ok {
		http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodGet:
		f.calls["get"]++
		from, to := parseRange(rest)
		var values [][]interface{}
		for n := from; n <= len(f.grid) && (to == 0 || n <= to); n++ {
			values = append(values, f.grid[n-1])
		}
		writeJSON(w, sheets.ValueRange{Range: rest, Values: values})

	case r.Method == http.MethodPut:
		f.calls["update"]++
		var body sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		from, _ := parseRange(rest)
		for len(f.grid) < from {
			f.grid = append(f.grid, []interface{}{})
		}
		f.grid[from-1] = body.Values[0]
		writeJSON(w, sheets.UpdateValuesResponse{UpdatedRange: rest, UpdatedCells: int64(len(body.Values[0]))})

	case r.Method == http.MethodPost && strings.HasSuffix(rest, ":append"):
		f.calls["append"]++
		var body sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.grid = append(f.grid, body.Values[0])
		n := len(f.grid)
		writeJSON(w, sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: fmt.Sprintf("Giveaway!A%d:G%d", n, n)},
		})

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, grid [][]interface{}) (*SheetsClient, *fakeSheet) {
	t.Helper()
	fake := &fakeSheet{grid: grid, calls: map[string]int{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewSheetsClient(context.Background(), "sheet-id", "Giveaway",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return client, fake
}

func TestSheetsClient_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestClient(t, [][]interface{}{header})

	key := store.Key{UserID: 100, Channel: "kino"}

	row, err := client.GetRow(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, row)

	row = store.NewRow(key)
	row.InvitedIDs = store.IDSet{1, 2}
	require.NoError(t, client.UpsertRow(ctx, row))
	assert.Equal(t, 1, fake.calls["append"])

	row.InvitedIDs = store.IDSet{1, 2, 3}
	row.Notified = true
	require.NoError(t, client.UpsertRow(ctx, row))
	assert.Equal(t, 1, fake.calls["append"], "existing row must be updated in place")
	assert.Equal(t, 1, fake.calls["update"])

	got, err := client.GetRow(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.IDSet{1, 2, 3}, got.InvitedIDs)
	assert.True(t, got.Notified)

	require.Len(t, fake.grid, 2)
	assert.Equal(t, []interface{}{"100", "", "kino", "1,2,3", float64(3), "так", ""}, fake.grid[1])
}

func TestSheetsClient_SkipsInconsistentRows(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t, [][]interface{}{
		header,
		{"100"},
		{"abc", "", "kino"},
		{float64(200), "@viewer", "kino", "5,6", float64(2), "ні", StatusLeftLabel},
	})

	row, err := client.GetRow(ctx, store.Key{UserID: 100, Channel: "kino"})
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = client.GetRow(ctx, store.Key{UserID: 200, Channel: "kino"})
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "@viewer", row.Username)
	assert.Equal(t, store.IDSet{5, 6}, row.InvitedIDs)
	assert.Equal(t, store.StatusLeft, row.Status)

	rows, err := client.ListRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSheetsClient_StaleCache(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestClient(t, [][]interface{}{
		header,
		{"100", "", "kino", "1", float64(1), "ні", ""},
	})

	// строку вручную переставили в таблице
	fake.mu.Lock()
	fake.grid = [][]interface{}{
		header,
		{"300", "", "films", "", float64(0), "ні", ""},
		{"100", "", "kino", "1", float64(1), "ні", ""},
	}
	fake.mu.Unlock()

	row, err := client.GetRow(ctx, store.Key{UserID: 100, Channel: "kino"})
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, store.IDSet{1}, row.InvitedIDs)

	n, ok := client.cachedRow(store.Key{UserID: 100, Channel: "kino"})
	assert.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestSheetsClient_EnsureHeader(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestClient(t, nil)

	require.NoError(t, client.EnsureHeader(ctx))
	require.NotEmpty(t, fake.grid)
	assert.Equal(t, "user_id", fake.grid[0][0])

	require.NoError(t, client.EnsureHeader(ctx))
	assert.Equal(t, 1, fake.calls["update"])
}

func TestParseParticipantRow(t *testing.T) {
	t.Run("short row", func(t *testing.T) {
		_, err := parseParticipantRow([]interface{}{"1", "x"})
		assert.ErrorIs(t, err, store.ErrInconsistentRow)
	})

	t.Run("blank channel", func(t *testing.T) {
		_, err := parseParticipantRow([]interface{}{"1", "x", " "})
		assert.ErrorIs(t, err, store.ErrInconsistentRow)
	})

	t.Run("count column is ignored", func(t *testing.T) {
		row, err := parseParticipantRow([]interface{}{"1", "", "kino", "4,4,5", float64(10), "так"})
		require.NoError(t, err)
		assert.Equal(t, 2, row.InvitedCount())
		assert.True(t, row.Notified)
	})

	t.Run("numeric invitee cell", func(t *testing.T) {
		row, err := parseParticipantRow([]interface{}{"1", "", "kino", float64(1234567890)})
		require.NoError(t, err)
		assert.Equal(t, store.IDSet{1234567890}, row.InvitedIDs)
	})

	t.Run("own id in invitee list", func(t *testing.T) {
		row, err := parseParticipantRow([]interface{}{"100", "", "kino", "100,1,2", float64(3), "ні"})
		require.NoError(t, err)
		assert.Equal(t, store.IDSet{1, 2}, row.InvitedIDs)
		assert.Equal(t, 2, row.InvitedCount())
		assert.Equal(t, store.StageProgressing, row.Stage())
	})
}

func TestRowFromUpdatedRange(t *testing.T) {
	n, ok := rowFromUpdatedRange("Giveaway!A15:G15")
	assert.True(t, ok)
	assert.Equal(t, 15, n)

	n, ok = rowFromUpdatedRange("'Giveaway'!A7:G7")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = rowFromUpdatedRange("")
	assert.False(t, ok)
}

func TestCredentialsOption(t *testing.T) {
	assert.NotNil(t, CredentialsOption("credentials.json", ""))
	assert.NotNil(t, CredentialsOption("", `{"type":"service_account"}`))
}
