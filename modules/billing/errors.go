package billing

import (
	"errors"
	"net/http"

	"github.com/linklethq/linklet/core"
	billingpkg "github.com/linklethq/linklet/pkg/billing"
	"github.com/linklethq/linklet/pkg/logger"
	"github.com/linklethq/linklet/pkg/plan"
	"github.com/linklethq/linklet/pkg/planchange"
)

// Stable message keys the dashboard renders. Raw provider error text never
// reaches the client.
var (
	errAlreadyPending       = core.NewHTTPError(http.StatusBadRequest, "already-pending")
	errNoActiveSubscription = core.NewHTTPError(http.StatusBadRequest, "no-active-subscription")
	errNoPendingChange      = core.NewHTTPError(http.StatusBadRequest, "no-pending-change")
	errNoPeriodEnd          = core.NewHTTPError(http.StatusBadRequest, "no-period-end")
	errNotDowngrade         = core.NewHTTPError(http.StatusBadRequest, "not-downgrade")
	errSamePlan             = core.NewHTTPError(http.StatusBadRequest, "same-plan")
	errDowngradeBlocked     = core.NewHTTPError(http.StatusBadRequest, "downgrade-blocked")
	errPlanNotFound         = core.NewHTTPError(http.StatusBadRequest, "plan-not-found")
	errPaymentFailed        = core.NewHTTPError(http.StatusPaymentRequired, "payment-failed")
	errUpdateFailed         = core.NewHTTPError(http.StatusInternalServerError, "update-failed")
)

// failChange maps a workflow error to its stable key. Unexpected errors log
// with full detail and surface as update-failed.
func (s *Service) failChange(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, planchange.ErrChangePending):
		core.Fail(w, errAlreadyPending, nil)
	case errors.Is(err, billingpkg.ErrNoActiveSubscription):
		core.Fail(w, errNoActiveSubscription, nil)
	case errors.Is(err, planchange.ErrNoPendingChange), errors.Is(err, planchange.ErrChangeNotFound):
		core.Fail(w, errNoPendingChange, nil)
	case errors.Is(err, billingpkg.ErrNoPeriodEnd):
		core.Fail(w, errNoPeriodEnd, nil)
	case errors.Is(err, planchange.ErrNotDowngrade):
		core.Fail(w, errNotDowngrade, nil)
	case errors.Is(err, planchange.ErrSamePlan):
		core.Fail(w, errSamePlan, nil)
	case errors.Is(err, planchange.ErrDowngradeBlocked):
		core.Fail(w, errDowngradeBlocked, nil)
	case errors.Is(err, plan.ErrPlanNotFound):
		core.Fail(w, errPlanNotFound, nil)
	case billingpkg.IsPaymentError(err):
		core.Fail(w, errPaymentFailed, nil)
	default:
		s.log.ErrorContext(r.Context(), "subscription change failed",
			logger.Component("billing"),
			logger.Error(err))
		core.Fail(w, errUpdateFailed, nil)
	}
}
