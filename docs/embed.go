package docs

import _ "embed"

var (
	//go:embed plan-format.md
	PlanFormatMD string

	//go:embed journal.md
	JournalMD string

	//go:embed resources.md
	ResourcesMD string
)
