package opt

// Scheduler adjusts an optimizer's learning rate over epochs.
type Scheduler interface {
	Step()
	GetLR() float64
}

// StepLR decays the learning rate by gamma every stepSize epochs.
type StepLR struct {
	optimizer Optimizer
	stepSize  int
	gamma     float64
	lastEpoch int
	initialLR float64
}

// NewStepLR creates a step decay scheduler.
func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) *StepLR {
	return &StepLR{
		optimizer: optimizer,
		stepSize:  stepSize,
		gamma:     gamma,
		initialLR: optimizer.LR(),
	}
}

// Step advances one epoch, decaying the learning rate on step boundaries.
func (s *StepLR) Step() {
	s.lastEpoch++
	if s.lastEpoch%s.stepSize == 0 {
		s.optimizer.SetLR(s.optimizer.LR() * s.gamma)
	}
}

// GetLR returns the optimizer's current learning rate.
func (s *StepLR) GetLR() float64 { return s.optimizer.LR() }

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	optimizer Optimizer
	gamma     float64
}

// NewExponentialLR creates an exponential decay scheduler.
func NewExponentialLR(optimizer Optimizer, gamma float64) *ExponentialLR {
	return &ExponentialLR{optimizer: optimizer, gamma: gamma}
}

// Step decays the learning rate once.
func (s *ExponentialLR) Step() {
	s.optimizer.SetLR(s.optimizer.LR() * s.gamma)
}

// GetLR returns the optimizer's current learning rate.
func (s *ExponentialLR) GetLR() float64 { return s.optimizer.LR() }
