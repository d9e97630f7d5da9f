package collector

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"go-report-pipeline/internal/model"
)

// RowSink reduces the rows of one stream. Consume is called once per row, in
// the order the service sent them, always from the stream's own delivery
// path. A sink never fails its stream; bad rows are the service's problem.
type RowSink interface {
	Consume(row model.Row)
}

// SinkFunc adapts a function to RowSink.
type SinkFunc func(row model.Row)

// Consume calls f(row).
func (f SinkFunc) Consume(row model.Row) { f(row) }

// SinkFactory builds the sink of one (account, query) stream.
type SinkFactory func(account model.AccountID, query model.QueryText) RowSink

// CountingSink counts rows. It is the sink of every stream when no
// SinkFactory is configured. Read Count only after the stream is terminal.
type CountingSink struct {
	n int64
}

func (s *CountingSink) Consume(model.Row) { s.n++ }

// Count returns the number of consumed rows.
func (s *CountingSink) Count() int64 { return s.n }

// KeywordRecord is the keyword-plan projection of a row.
type KeywordRecord struct {
	AccountID  model.AccountID `json:"account_id"`
	PlanID     int64           `json:"keyword_plan_id"`
	CampaignID int64           `json:"keyword_plan_campaign_id"`
	AdGroupID  int64           `json:"keyword_plan_ad_group_id"`
	KeywordID  int64           `json:"keyword_plan_ad_group_keyword_id"`
	Text       string          `json:"keyword_plan_ad_group_keyword_text"`
}

// ExtractKeyword projects a row onto a KeywordRecord. Missing fields stay zero.
func ExtractKeyword(account model.AccountID, row model.Row) KeywordRecord {
	rec := KeywordRecord{AccountID: account}
	rec.PlanID, _ = row.Int("keyword_plan.id")
	rec.CampaignID, _ = row.Int("keyword_plan_campaign.id")
	rec.AdGroupID, _ = row.Int("keyword_plan_ad_group.id")
	rec.KeywordID, _ = row.Int("keyword_plan_ad_group_keyword.id")
	rec.Text = row.String("keyword_plan_ad_group_keyword.text")
	return rec
}

// KeywordSink extracts keyword records and hands each one to Emit.
type KeywordSink struct {
	Account model.AccountID
	Emit    func(KeywordRecord)
}

func (s *KeywordSink) Consume(row model.Row) {
	if s.Emit != nil {
		s.Emit(ExtractKeyword(s.Account, row))
	}
}

// LoggingKeywordSinks returns a factory whose sinks log every keyword row.
func LoggingKeywordSinks(logger log.Logger) SinkFactory {
	return func(account model.AccountID, query model.QueryText) RowSink {
		return &KeywordSink{
			Account: account,
			Emit: func(rec KeywordRecord) {
				level.Info(logger).Log(
					"msg", "row",
					"account", account,
					"keyword_plan_id", rec.PlanID,
					"keyword_plan_campaign_id", rec.CampaignID,
					"keyword_plan_ad_group_id", rec.AdGroupID,
					"keyword_plan_ad_group_keyword_id", rec.KeywordID,
					"keyword_plan_ad_group_keyword_text", rec.Text,
				)
			},
		}
	}
}
