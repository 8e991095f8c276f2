package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template is the mneme.yaml written by `mneme init`.
const Template = `name: %s

store:
  driver: sqlite            # sqlite, postgres, memory
  dsn: .mneme/memory.db     # postgres: ${MNEME_POSTGRES_DSN}

provider:
  name: anthropic           # anthropic, openai
  model: claude-sonnet-4-20250514
  api_key: ${env.ANTHROPIC_API_KEY}
  max_retries: 3

chat:
  max_tokens: 1024
  temperature: 0.7
  history_turns: 20
  session_ttl: 30m

extraction:
  enabled: true
  strategy: auto            # llm, heuristic, auto
  timeout: 30s

search:
  limit: 5
  fallback_limit: 3
  cache: true
  cache_size: 256

events:
  hooks:
    - name: audit
      type: log
      events: [memory.added, memory.updated, memory.deleted]
      level: info
  redis:
    enabled: false
    addr: localhost:6379
    channel: mneme:events

logging:
  level: info
  format: text

server:
  addr: localhost:8080

telemetry:
  tracing: false
  service_name: mneme
`

// WriteTemplate writes a starter mneme.yaml into dir. It refuses to
// overwrite an existing file unless force is set.
func WriteTemplate(dir, name string, force bool) (string, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf(Template, name)), 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}
