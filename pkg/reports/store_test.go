package reports

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuditReport(name string, ts time.Time) *audit.Report {
	return &audit.Report{
		SkillName: name,
		SkillPath: "/tmp/" + name,
		Timestamp: ts,
		Findings: []audit.Finding{
			{
				Type:     audit.FindingDangerousPattern,
				Severity: audit.SeverityCritical,
				Name:     "dynamic code execution",
				File:     "index.js",
				Context:  "eval(input)",
			},
		},
		RiskScore:      100,
		RiskLevel:      audit.RiskCritical,
		Recommendation: "REJECT: dangerous constructs detected, do not install",
	}
}

func testInstallAttempt(name string, ts time.Time, result pipeline.Result) *pipeline.Attempt {
	return &pipeline.Attempt{
		ID:        "attempt-" + name,
		SourceURL: "https://example.com/" + name,
		SkillName: name,
		Phase:     pipeline.PhaseComplete,
		Result:    result,
		RiskLevel: audit.RiskSafe,
		StartedAt: ts,
	}
}

// storeFactories builds each backend against a fresh temp location so every
// test runs against both.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"json": func() Store {
			s, err := NewJSONStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "storage.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for backend, newStore := range storeFactories(t) {
		t.Run(backend, func(t *testing.T) {
			store := newStore()
			defer store.Close()
			ctx := context.Background()

			base := time.Now().Truncate(time.Second)
			require.NoError(t, store.SaveAuditReport(ctx, testAuditReport("alpha", base)))
			require.NoError(t, store.SaveAuditReport(ctx, testAuditReport("beta", base.Add(time.Second))))

			reports, err := store.ListAuditReports(ctx)
			require.NoError(t, err)
			require.Len(t, reports, 2)
			assert.Equal(t, "alpha", reports[0].SkillName)
			assert.Equal(t, "beta", reports[1].SkillName)
			assert.Equal(t, 100, reports[0].RiskScore)
			assert.Equal(t, audit.RiskCritical, reports[0].RiskLevel)
			require.Len(t, reports[0].Findings, 1)
			assert.Equal(t, "dynamic code execution", reports[0].Findings[0].Name)

			require.NoError(t, store.SaveInstallAttempt(ctx, testInstallAttempt("alpha", base, pipeline.ResultSuccess)))
			require.NoError(t, store.SaveInstallAttempt(ctx, testInstallAttempt("beta", base.Add(time.Second), pipeline.ResultRejected)))

			attempts, err := store.ListInstallAttempts(ctx)
			require.NoError(t, err)
			require.Len(t, attempts, 2)
			assert.Equal(t, pipeline.ResultSuccess, attempts[0].Result)
			assert.Equal(t, pipeline.ResultRejected, attempts[1].Result)
		})
	}
}

func TestStoreIsAppendOnly(t *testing.T) {
	for backend, newStore := range storeFactories(t) {
		t.Run(backend, func(t *testing.T) {
			store := newStore()
			defer store.Close()
			ctx := context.Background()

			// same skill audited twice keeps both records
			require.NoError(t, store.SaveAuditReport(ctx, testAuditReport("repeat", time.Now())))
			require.NoError(t, store.SaveAuditReport(ctx, testAuditReport("repeat", time.Now().Add(time.Millisecond))))

			reports, err := store.ListAuditReports(ctx)
			require.NoError(t, err)
			assert.Len(t, reports, 2)
		})
	}
}

func TestStoreEmptyLists(t *testing.T) {
	for backend, newStore := range storeFactories(t) {
		t.Run(backend, func(t *testing.T) {
			store := newStore()
			defer store.Close()
			ctx := context.Background()

			reports, err := store.ListAuditReports(ctx)
			require.NoError(t, err)
			assert.Empty(t, reports)

			attempts, err := store.ListInstallAttempts(ctx)
			require.NoError(t, err)
			assert.Empty(t, attempts)
		})
	}
}

func TestJSONStoreSkipsCorruptRecords(t *testing.T) {
	basePath := t.TempDir()
	store, err := NewJSONStore(basePath)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveAuditReport(ctx, testAuditReport("good", time.Now())))
	require.NoError(t, os.WriteFile(
		filepath.Join(basePath, "audits", "corrupt-1.json"), []byte("{not json"), 0o644))

	reports, err := store.ListAuditReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "good", reports[0].SkillName)
}

func TestJSONStoreSanitizesFilenames(t *testing.T) {
	basePath := t.TempDir()
	store, err := NewJSONStore(basePath)
	require.NoError(t, err)
	defer store.Close()

	report := testAuditReport("../../etc/passwd", time.Now())
	require.NoError(t, store.SaveAuditReport(context.Background(), report))

	entries, err := os.ReadDir(filepath.Join(basePath, "audits"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
	assert.NotContains(t, entries[0].Name(), "..")
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "storage.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveAuditReport(ctx, testAuditReport("durable", time.Now())))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	reports, err := reopened.ListAuditReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "durable", reports[0].SkillName)
}

func TestNewStoreFactory(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, StoreConfig{Backend: BackendJSON, BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &JSONStore{}, store)
	store.Close()

	store, err = NewStore(ctx, StoreConfig{Backend: BackendSQLite, DBPath: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	store.Close()

	// empty backend defaults to json
	store, err = NewStore(ctx, StoreConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &JSONStore{}, store)
	store.Close()

	_, err = NewStore(ctx, StoreConfig{Backend: "mongodb"})
	assert.Error(t, err)
}
