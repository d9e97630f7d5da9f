// Package searchsvc serves search streams from a YAML fixture. It backs the
// development search daemon and the transport integration tests.
package searchsvc

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"gopkg.in/yaml.v3"

	"go-report-pipeline/internal/model"
)

// Failure injects an error into an account's stream.
type Failure struct {
	Code    string `yaml:"code"`    // gRPC code name, e.g. RESOURCE_EXHAUSTED
	Message string `yaml:"message"` // e.g. RATE_LIMITED
	After   int    `yaml:"after"`   // rows sent before failing
}

// StatusCode parses Code. An empty code is Unknown.
func (f Failure) StatusCode() (codes.Code, error) {
	if f.Code == "" {
		return codes.Unknown, nil
	}
	var c codes.Code
	if err := c.UnmarshalJSON([]byte(fmt.Sprintf("%q", f.Code))); err != nil {
		return codes.Unknown, errors.Wrapf(err, "failure code %q", f.Code)
	}
	return c, nil
}

// Stream is what one account returns for a query.
type Stream struct {
	Rows     []model.Row `yaml:"rows"`
	Generate int         `yaml:"generate"` // append this many keyword rows
	Failure  *Failure    `yaml:"failure"`
}

// Account holds an account's default stream and per-query overrides.
type Account struct {
	Stream  `yaml:",inline"`
	Queries map[string]Stream `yaml:"queries"`
}

// Fixture is the whole data set of the fixture server.
type Fixture struct {
	PageSize  int                `yaml:"page_size"`  // rows per response message
	PageDelay time.Duration      `yaml:"page_delay"` // pause between messages
	Accounts  map[string]Account `yaml:"accounts"`
}

const defaultPageSize = 100

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read fixture %s", path)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	f := &Fixture{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, errors.Wrap(err, "parse fixture")
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	for id, acc := range f.Accounts {
		if err := acc.Stream.validate(); err != nil {
			return nil, errors.Wrapf(err, "account %s", id)
		}
		for q, s := range acc.Queries {
			if err := s.validate(); err != nil {
				return nil, errors.Wrapf(err, "account %s query %q", id, q)
			}
		}
	}
	return f, nil
}

func (s Stream) validate() error {
	if s.Generate < 0 {
		return errors.New("generate must not be negative")
	}
	if s.Failure != nil {
		if s.Failure.After < 0 {
			return errors.New("failure.after must not be negative")
		}
		if _, err := s.Failure.StatusCode(); err != nil {
			return err
		}
	}
	return nil
}

// lookup returns the stream of account for query.
func (f *Fixture) lookup(account, query string) (Stream, bool) {
	acc, ok := f.Accounts[account]
	if !ok {
		return Stream{}, false
	}
	if s, ok := acc.Queries[query]; ok {
		return s, true
	}
	return acc.Stream, true
}

// rows materialises the stream's rows, generated ones included.
func (s Stream) rows(account string) []model.Row {
	out := make([]model.Row, 0, len(s.Rows)+s.Generate)
	out = append(out, s.Rows...)
	for i := 1; i <= s.Generate; i++ {
		out = append(out, model.Row{
			"keyword_plan.id":                    i,
			"keyword_plan_campaign.id":           i,
			"keyword_plan_ad_group.id":           i,
			"keyword_plan_ad_group_keyword.id":   i,
			"keyword_plan_ad_group_keyword.text": fmt.Sprintf("%s keyword %d", account, i),
		})
	}
	return out
}
