package domain

// AttemptStatus is the outcome of the attempt limiter for one (user, activity) pair.
type AttemptStatus struct {
	Attempts    int
	MaxAttempts int
	CanRegister bool
}

func evaluateAttempts(attempts, maxAttempts int) AttemptStatus {
	return AttemptStatus{
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		CanRegister: attempts < maxAttempts,
	}
}
