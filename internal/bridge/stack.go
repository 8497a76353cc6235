package bridge

// commandStack is the LIFO of active scopes. Only collections and repeats are
// ever pushed.
type commandStack struct {
	items []*Command
}

func (s *commandStack) push(c *Command) {
	s.items = append(s.items, c)
}

func (s *commandStack) pop() *Command {
	if len(s.items) == 0 {
		return nil
	}
	last := len(s.items) - 1
	c := s.items[last]
	s.items[last] = nil
	s.items = s.items[:last]
	return c
}

func (s *commandStack) top() *Command {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

func (s *commandStack) len() int {
	return len(s.items)
}
