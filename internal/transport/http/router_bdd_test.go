package httptransport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"covenant/internal/adminaudit"
	auditmodels "covenant/internal/adminaudit/models"
	auditstore "covenant/internal/adminaudit/store"
	esmodels "covenant/internal/eventstore/models"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/testutil"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestAdminIntegrityWorkflow(t *testing.T) {
	store := auditstore.NewInMemory()
	svc, err := adminaudit.New(store, txcontext.NewMemoryRunner())
	require.NoError(t, err)
	verifier := &stubVerifier{report: &esmodels.IntegrityReport{IsValid: false, EventCount: 2, Errors: []string{"hash mismatch at v2"}}}
	h, err := New(verifier, svc, nil)
	require.NoError(t, err)
	router := NewRouter(h, RouterConfig{AdminToken: adminToken})

	testutil.Given(t, "an operator without the admin token", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/integrity/audit/verify", nil)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	testutil.When(t, "an admin verifies a tampered aggregate", func(t *testing.T) {
		req := testutil.AsAdmin(
			testutil.NewJSONRequest(t, http.MethodPost, "/admin/integrity/aggregates/LEASE/lease-9/verify", ActionRequest{Reason: "tenant complaint"}),
			adminToken, "admin-3",
		)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusOK)

		report := testutil.UnmarshalResponse[esmodels.IntegrityReport](t, rr)
		testutil.Then(t, "the broken chain is reported", func(t *testing.T) {
			require.False(t, report.IsValid)
			require.Equal(t, []string{"hash mismatch at v2"}, report.Errors)
		})
	})

	testutil.Then(t, "the check itself is on the admin trail", func(t *testing.T) {
		entries, err := svc.GetAdminActivityReport(testutil.ActorContext("admin-3", "ADMIN", testNow), auditmodels.ReportFilter{AdminID: "admin-3"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, ActionVerifyEventIntegrity, entries[0].Action)
		require.Equal(t, "lease-9", entries[0].EntityID)
		require.Equal(t, "tenant complaint", entries[0].Reason)
	})

	testutil.When(t, "no scheduler is wired", func(t *testing.T) {
		req := testutil.AsAdmin(testutil.NewJSONRequest(t, http.MethodPost, "/admin/jobs/dispute-sweep/run", nil), adminToken, "admin-3")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})
}
