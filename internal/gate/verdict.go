package gate

import (
	"errors"
	"fmt"
	"net/http"
)

// Verdict is a policy denial with a stable (code, message) pair. Downstream
// handlers render it without inspecting gate internals.
type Verdict struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (v *Verdict) Error() string {
	return v.Code + ": " + v.Message
}

const (
	CodePaidSubscriptionRequired = "PAID_SUBSCRIPTION_REQUIRED"
	CodePlanUpgradeRequired      = "PLAN_UPGRADE_REQUIRED"
	CodeQuotaExceeded            = "QUOTA_EXCEEDED"
	CodeDemoWriteForbidden       = "DEMO_WRITE_FORBIDDEN"
	CodeDeveloperAccessRequired  = "DEVELOPER_ACCESS_REQUIRED"
	CodeOperationNotPermitted    = "OPERATION_NOT_PERMITTED"
)

func PaidSubscriptionRequired(feature string) *Verdict {
	return &Verdict{
		Code:       CodePaidSubscriptionRequired,
		Message:    fmt.Sprintf("Feature %q requires an active subscription", feature),
		HTTPStatus: http.StatusForbidden,
	}
}

func PlanUpgradeRequired(feature, required string) *Verdict {
	return &Verdict{
		Code:       CodePlanUpgradeRequired,
		Message:    fmt.Sprintf("Feature %q requires the %s plan or higher", feature, required),
		HTTPStatus: http.StatusForbidden,
	}
}

func QuotaExceeded(feature string) *Verdict {
	return &Verdict{
		Code:       CodeQuotaExceeded,
		Message:    fmt.Sprintf("Daily quota for %q exhausted", feature),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

func OperationNotPermitted() *Verdict {
	return &Verdict{
		Code:       CodeOperationNotPermitted,
		Message:    "Operation not permitted",
		HTTPStatus: http.StatusForbidden,
	}
}

func DemoWriteForbidden() *Verdict {
	return &Verdict{
		Code:       CodeDemoWriteForbidden,
		Message:    "Demo sessions cannot perform write operations",
		HTTPStatus: http.StatusForbidden,
	}
}

func DeveloperAccessRequired() *Verdict {
	return &Verdict{
		Code:       CodeDeveloperAccessRequired,
		Message:    "Exclusive developer access required",
		HTTPStatus: http.StatusForbidden,
	}
}

// AsVerdict unwraps a policy denial from an error chain.
func AsVerdict(err error) (*Verdict, bool) {
	var verdict *Verdict
	if errors.As(err, &verdict) {
		return verdict, true
	}
	return nil, false
}
