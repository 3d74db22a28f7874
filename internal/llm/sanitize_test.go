package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain statement",
			raw:  "SELECT id FROM t_edge",
			want: "SELECT id FROM t_edge",
		},
		{
			name: "sql fence",
			raw:  "```sql\nSELECT id FROM t_edge\n```",
			want: "SELECT id FROM t_edge",
		},
		{
			name: "bare fence with whitespace",
			raw:  "```\nSELECT id FROM t_edge\n```  ",
			want: "SELECT id FROM t_edge",
		},
		{
			name: "influxql fence",
			raw:  "```influxql\nSELECT MEAN(\"cpu\") FROM \"metrics\"\n```",
			want: "SELECT MEAN(\"cpu\") FROM \"metrics\"",
		},
		{
			name: "multiple statements takes first select",
			raw:  "SELECT id FROM t_edge; SELECT id FROM t_client;",
			want: "SELECT id FROM t_edge",
		},
		{
			name: "prose before statement across semicolons",
			raw:  "Here is the query; SELECT serial FROM t_edge;",
			want: "SELECT serial FROM t_edge",
		},
		{
			name: "blank line separated takes first block",
			raw:  "SELECT id FROM t_edge\n\nThis query selects devices.",
			want: "SELECT id FROM t_edge",
		},
		{
			name: "multiline statement survives",
			raw:  "SELECT id, serial\nFROM t_edge\nWHERE status = 1",
			want: "SELECT id, serial\nFROM t_edge\nWHERE status = 1",
		},
		{
			name: "empty output",
			raw:  "  \n ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func TestStripFences(t *testing.T) {
	raw := "```json\n{\"steps\": []}\n```"
	assert.Equal(t, "{\"steps\": []}", stripFences(raw))
}
