package presence

import (
	"fmt"
	"sync"
)

// DisabledIndicator is the fixed text shown once the server reports the
// feature turned off.
const DisabledIndicator = "Active counts disabled"

// CountLabel is a plain text Display, the projection of one count
// placeholder.
type CountLabel struct {
	mu   sync.Mutex
	text string
}

func (l *CountLabel) SetCount(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text = fmt.Sprintf("Active now: %d users", n)
}

func (l *CountLabel) SetDisabled() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text = DisabledIndicator
}

// Text returns the label's current contents.
func (l *CountLabel) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text
}
