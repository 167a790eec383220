package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Columns: []Column{{Key: "name", Title: "Student Name"}, {Key: "college"}},
		Rows: []map[string]string{
			{"name": "Asha", "college": "X College, Pune"},
			{"name": "=HYPERLINK(\"x\")", "college": ""},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Student Name,college\nAsha,\"X College, Pune\"\n\"'=HYPERLINK(\"\"x\"\")\",\n", string(out))
}

func TestCSVExporterRequiresColumns(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}
