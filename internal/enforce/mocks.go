package enforce

import (
	"net/netip"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockCommandRunner is a mock implementation of CommandRunner for testing.
type MockCommandRunner struct {
	mock.Mock
	mu sync.Mutex

	// Scripts captured by RunInput, newest last.
	Inputs []string
}

func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{}
}

func (m *MockCommandRunner) Run(name string, args ...string) error {
	callArgs := m.Called(name, args)
	return callArgs.Error(0)
}

func (m *MockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	callArgs := m.Called(name, args)
	if callArgs.Get(0) != nil {
		return callArgs.Get(0).([]byte), callArgs.Error(1)
	}
	return nil, callArgs.Error(1)
}

func (m *MockCommandRunner) RunInput(input, name string, args ...string) error {
	m.mu.Lock()
	m.Inputs = append(m.Inputs, input)
	m.mu.Unlock()
	callArgs := m.Called(input, name, args)
	return callArgs.Error(0)
}

// LastInput returns the most recent script passed to RunInput.
func (m *MockCommandRunner) LastInput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Inputs) == 0 {
		return ""
	}
	return m.Inputs[len(m.Inputs)-1]
}

// MockInspector is a mock implementation of Inspector for testing.
type MockInspector struct {
	mock.Mock
}

func NewMockInspector() *MockInspector {
	return &MockInspector{}
}

func (m *MockInspector) TableExists(name string) (bool, error) {
	args := m.Called(name)
	return args.Bool(0), args.Error(1)
}

func (m *MockInspector) SetAddrs(table, set string) ([]netip.Addr, error) {
	args := m.Called(table, set)
	if args.Get(0) != nil {
		return args.Get(0).([]netip.Addr), args.Error(1)
	}
	return nil, args.Error(1)
}
