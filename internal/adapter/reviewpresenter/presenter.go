package reviewpresenter

import (
	"strings"

	"github.com/park285/cheese-review/pkg/reviewdto"
)

// Presenter delivers formatted review text without coupling to the output channel.
type Presenter struct {
	formatter *Formatter
	write     func(message string) error
}

func NewPresenter(formatter *Formatter, write func(message string) error) *Presenter {
	return &Presenter{formatter: formatter, write: write}
}

func (p *Presenter) Report(rep reviewdto.Report) error {
	return p.send(p.formatter.Report(rep))
}

func (p *Presenter) Progress(ev reviewdto.ProgressEvent) error {
	return p.send(p.formatter.Progress(ev))
}

func (p *Presenter) send(text string) error {
	if p == nil || p.write == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	return p.write(text)
}
