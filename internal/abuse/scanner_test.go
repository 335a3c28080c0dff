package abuse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/counter"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/plan"
)

func newTestScanner(t *testing.T) (*Scanner, *database.DB, *miniredis.Miniredis) {
	t.Helper()
	db, err := database.NewSQLite(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog, err := plan.NewCatalog([]plan.Plan{
		{Code: "FREE", Label: "Free", MaxAPIKeys: 1},
		{Code: "METERED", Label: "Metered", RequestsPerMonth: 100, MaxAPIKeys: 5},
	})
	require.NoError(t, err)

	s := NewScanner(db, counter.NewRedisClient(rdb), catalog, zap.NewNop(), time.Minute)
	return s, db, mr
}

func seedTenant(t *testing.T, db *database.DB, planCode string) database.Tenant {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	tenant := database.Tenant{
		ID: uuid.NewString(), Name: "acme", PlanCode: planCode, Status: "ACTIVE",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateTenant(context.Background(), tenant))
	return tenant
}

func seedUser(t *testing.T, db *database.DB, tenantID, signupIP string) database.User {
	t.Helper()
	u := database.User{
		ID: uuid.NewString(), TenantID: tenantID, ExternalID: uuid.NewString(),
		Email: "u@example.com", SystemRole: "normal", SignupIP: signupIP,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func seedAuditEvents(t *testing.T, db *database.DB, userID string, status, n int) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		e := database.AuditEvent{
			ID: uuid.NewString(), Timestamp: now, Action: "request.completed",
			Actor: "api", UserID: userID, Path: "/v1/faces/compare",
			Status: status, Outcome: "failure",
		}
		require.NoError(t, db.InsertAuditEvent(context.Background(), e))
	}
}

func openFlags(t *testing.T, db *database.DB) []database.AbuseFlag {
	t.Helper()
	flags, err := db.ListOpenAbuseFlags(context.Background(), 1000)
	require.NoError(t, err)
	return flags
}

func TestClientErrorSignalThresholds(t *testing.T) {
	s, db, _ := newTestScanner(t)
	tenant := seedTenant(t, db, "FREE")
	noisy := seedUser(t, db, tenant.ID, "")
	veryNoisy := seedUser(t, db, tenant.ID, "")
	quiet := seedUser(t, db, tenant.ID, "")

	seedAuditEvents(t, db, noisy.ID, 400, clientErrorThreshold+1)
	seedAuditEvents(t, db, veryNoisy.ID, 422, clientErrorEscalation+1)
	seedAuditEvents(t, db, quiet.ID, 400, clientErrorThreshold)

	s.Scan(context.Background())

	bySubject := map[string]database.AbuseFlag{}
	for _, f := range openFlags(t, db) {
		bySubject[f.UserID] = f
	}
	require.Contains(t, bySubject, noisy.ID)
	assert.Equal(t, SeverityMedium, bySubject[noisy.ID].Severity)
	assert.Equal(t, ReasonExcessiveClientErrors, bySubject[noisy.ID].Reason)
	assert.Equal(t, tenant.ID, bySubject[noisy.ID].TenantID)

	require.Contains(t, bySubject, veryNoisy.ID)
	assert.Equal(t, SeverityHigh, bySubject[veryNoisy.ID].Severity)

	// At (not above) the threshold no flag is raised.
	assert.NotContains(t, bySubject, quiet.ID)
}

func TestTenantUsageSignal(t *testing.T) {
	s, db, mr := newTestScanner(t)
	over := seedTenant(t, db, "METERED")
	warm := seedTenant(t, db, "METERED")
	cold := seedTenant(t, db, "METERED")
	unmetered := seedTenant(t, db, "FREE")

	month := time.Now().UTC().Format("200601")
	mr.Set(fmt.Sprintf("usage:%s:requests:%s", over.ID, month), "120")
	mr.Set(fmt.Sprintf("usage:%s:requests:%s", warm.ID, month), "95")
	mr.Set(fmt.Sprintf("usage:%s:requests:%s", cold.ID, month), "10")
	mr.Set(fmt.Sprintf("usage:%s:requests:%s", unmetered.ID, month), "99999")

	s.Scan(context.Background())

	bySubject := map[string]database.AbuseFlag{}
	for _, f := range openFlags(t, db) {
		bySubject[f.UserID] = f
	}
	require.Contains(t, bySubject, over.ID)
	assert.Equal(t, SeverityHigh, bySubject[over.ID].Severity)
	assert.Equal(t, ReasonQuotaOverrun, bySubject[over.ID].Reason)

	require.Contains(t, bySubject, warm.ID)
	assert.Equal(t, SeverityLow, bySubject[warm.ID].Severity)

	assert.NotContains(t, bySubject, cold.ID)
	// Plans without a monthly limit are never usage-flagged.
	assert.NotContains(t, bySubject, unmetered.ID)
}

func TestSignupIPSignal(t *testing.T) {
	s, db, _ := newTestScanner(t)
	tenant := seedTenant(t, db, "FREE")

	for i := 0; i < 4; i++ {
		seedUser(t, db, tenant.ID, "192.0.2.7")
	}
	seedUser(t, db, tenant.ID, "192.0.2.8")

	s.Scan(context.Background())

	flags := openFlags(t, db)
	var shared []database.AbuseFlag
	for _, f := range flags {
		if f.Reason == ReasonSharedSignupIP {
			shared = append(shared, f)
		}
	}
	require.Len(t, shared, 4)
	for _, f := range shared {
		assert.Equal(t, SeverityHigh, f.Severity)
	}
}

func TestSignupIPSignalEscalatesToCritical(t *testing.T) {
	s, db, _ := newTestScanner(t)
	tenant := seedTenant(t, db, "FREE")
	for i := 0; i < signupIPEscalation+1; i++ {
		seedUser(t, db, tenant.ID, "203.0.113.5")
	}

	s.Scan(context.Background())

	for _, f := range openFlags(t, db) {
		if f.Reason == ReasonSharedSignupIP {
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
}

func TestRateLimitSignal(t *testing.T) {
	s, db, _ := newTestScanner(t)
	tenant := seedTenant(t, db, "FREE")
	hammer := seedUser(t, db, tenant.ID, "")

	seedAuditEvents(t, db, hammer.ID, 429, rateLimitThreshold+1)

	s.Scan(context.Background())

	flags := openFlags(t, db)
	var found *database.AbuseFlag
	for i := range flags {
		if flags[i].Reason == ReasonRateLimitAbuse {
			found = &flags[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, SeverityMedium, found.Severity)
	assert.Equal(t, hammer.ID, found.UserID)
}

func TestScanTwiceProducesNoNewFlags(t *testing.T) {
	s, db, mr := newTestScanner(t)
	tenant := seedTenant(t, db, "METERED")
	noisy := seedUser(t, db, tenant.ID, "")
	seedAuditEvents(t, db, noisy.ID, 400, clientErrorThreshold+1)
	seedAuditEvents(t, db, noisy.ID, 429, rateLimitThreshold+1)
	for i := 0; i < 4; i++ {
		seedUser(t, db, tenant.ID, "192.0.2.9")
	}
	month := time.Now().UTC().Format("200601")
	mr.Set(fmt.Sprintf("usage:%s:requests:%s", tenant.ID, month), "150")

	s.Scan(context.Background())
	first := len(openFlags(t, db))
	require.Greater(t, first, 0)

	// Dedup holds: an immediate second pass over unchanged data is a no-op.
	s.Scan(context.Background())
	assert.Equal(t, first, len(openFlags(t, db)))
}

func TestScanSurvivesCounterStoreOutage(t *testing.T) {
	s, db, mr := newTestScanner(t)
	tenant := seedTenant(t, db, "METERED")
	noisy := seedUser(t, db, tenant.ID, "")
	seedAuditEvents(t, db, noisy.ID, 400, clientErrorThreshold+1)
	mr.Close()

	// The usage signal fails but the audit-based signals still run.
	s.Scan(context.Background())

	flags := openFlags(t, db)
	require.NotEmpty(t, flags)
	assert.Equal(t, ReasonExcessiveClientErrors, flags[0].Reason)
}
