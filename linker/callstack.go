package linker

// Frame is one contract activation on a dynamic link call stack.
type Frame struct {
	Address  string
	Entry    string
	ReadOnly bool
}

// CallStack tracks the chain of contracts in one top-level call. The root
// frame is the top-level contract; Depth does not count it.
type CallStack struct {
	frames []Frame
}

// NewCallStack returns a stack holding only root.
func NewCallStack(root Frame) *CallStack {
	return &CallStack{frames: []Frame{root}}
}

// Push appends a frame.
func (s *CallStack) Push(f Frame) {
	s.frames = append(s.frames, f)
}

// Pop removes the innermost frame. The root frame is never removed.
func (s *CallStack) Pop() {
	if len(s.frames) > 1 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// Top returns the innermost frame.
func (s *CallStack) Top() Frame {
	return s.frames[len(s.frames)-1]
}

// Caller returns the address of the innermost frame.
func (s *CallStack) Caller() string {
	return s.Top().Address
}

// Depth returns the number of nested frames above the root.
func (s *CallStack) Depth() int {
	return len(s.frames) - 1
}

// Contains reports whether address has a frame anywhere on the stack.
func (s *CallStack) Contains(address string) bool {
	for _, f := range s.frames {
		if f.Address == address {
			return true
		}
	}
	return false
}

// Addresses returns the frame addresses, outermost first.
func (s *CallStack) Addresses() []string {
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Address
	}
	return out
}

// Frames returns a copy of the frames, outermost first.
func (s *CallStack) Frames() []Frame {
	return append([]Frame(nil), s.frames...)
}
