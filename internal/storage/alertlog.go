package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/liamashdown/whalewatch/internal/alerts"
)

// AlertLog appends alerts to a JSON Lines file, one object per line in
// creation order
type AlertLog struct {
	path string
	mu   sync.Mutex
}

// NewAlertLog creates an alert log writing to path
func NewAlertLog(path string) *AlertLog {
	return &AlertLog{path: path}
}

// Append writes one alert as a single line
func (l *AlertLog) Append(a *alerts.Alert) error {
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write alert log: %w", err)
	}
	return f.Close()
}
