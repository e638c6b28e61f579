package obligation

import "plexledger/internal/models"

// Project derives a user's work status. Insufficient fee-token balance outranks blocked
// obligations, and only the balance monitor decides balanceInsufficient.
func Project(anyBlocked, balanceInsufficient bool) models.WorkStatus {
	switch {
	case balanceInsufficient:
		return models.WorkSuspendedNoPayment
	case anyBlocked:
		return models.WorkSuspendedNoFee
	default:
		return models.WorkActive
	}
}

// ProjectFromObligations is the obligation-side projection: it keeps an existing
// SUSPENDED_NO_PAYMENT untouched.
func ProjectFromObligations(current models.WorkStatus, anyBlocked bool) models.WorkStatus {
	return Project(anyBlocked, current == models.WorkSuspendedNoPayment)
}
