package progress

// Null is an Indicator that records nothing; operations accept it in
// place of a nil check at every step.
type Null struct{}

var _ Indicator = Null{}

func (Null) Init(int64)            {}
func (Null) Step(int64)            {}
func (Null) StepPercentage()       {}
func (Null) Refresh()              {}
func (Null) Done()                 {}
func (Null) Reset()                {}
func (Null) SetRange(_, _, _ int64) {}
func (Null) PushBreadcrumb(string) {}
func (Null) PopBreadcrumb()        {}
