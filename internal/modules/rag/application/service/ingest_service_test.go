package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvHeader = "id,title,content,link,date,source\n"

func TestParseCSV_ValidRows(t *testing.T) {
	in := csvHeader +
		"vnm-001,VNM quý 2,Vinamilk đạt doanh thu kỷ lục,https://cafef.vn/vnm,2024-07-15,cafef\n" +
		"hpg-002,HPG Dung Quất,Hòa Phát khởi công giai đoạn hai,https://cafef.vn/hpg,2024-07-16,cafef\n"

	docs, rowErrors, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, docs, 2)
	assert.Equal(t, "vnm-001", docs[0].Id)
	assert.Equal(t, "HPG Dung Quất", docs[1].Title)
	assert.Equal(t, "cafef", docs[1].Source)
}

func TestParseCSV_MalformedRowDoesNotAbortBatch(t *testing.T) {
	in := csvHeader +
		"vnm-001,VNM quý 2,nội dung một,https://a,2024-07-15,cafef\n" +
		"x-2,,nội dung hai,https://b,2024-07-15,cafef\n" +
		"hpg-002,HPG,nội dung ba,https://c,2024-07-16,cafef\n"

	docs, rowErrors, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, docs, 2, "valid rows around a bad one must survive")
	assert.Equal(t, "vnm-001", docs[0].Id)
	assert.Equal(t, "hpg-002", docs[1].Id)

	require.Len(t, rowErrors, 1)
	assert.Equal(t, 2, rowErrors[0].Row)
	assert.Contains(t, rowErrors[0].Reason, "missing title")
}

func TestParseCSV_IDColumnIsOptional(t *testing.T) {
	in := "title,content,link,date,source\n" +
		"VNM quý 2,nội dung một,https://cafef.vn/vnm,2024-07-15,cafef\n" +
		"Không có link,nội dung hai,,2024-07-15,cafef\n"

	docs, rowErrors, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, docs, 2)

	assert.True(t, strings.HasPrefix(docs[0].Id, "lnk_"), "link-bearing rows get a link-derived id")
	assert.True(t, strings.HasPrefix(docs[1].Id, "gen_"), "linkless rows get a generated id")
	assert.NotEqual(t, docs[0].Id, docs[1].Id)
}

func TestParseCSV_DerivedIDStableAcrossReingest(t *testing.T) {
	in := "title,content,link,date,source\n" +
		"VNM quý 2,nội dung,https://cafef.vn/vnm,2024-07-15,cafef\n"

	first, _, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)
	second, _, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Id, second[0].Id, "re-ingesting the same link converges on one id")
}

func TestParseCSV_BlankIDFallsBackToDerived(t *testing.T) {
	in := csvHeader +
		",VNM quý 2,nội dung,https://cafef.vn/vnm,2024-07-15,cafef\n" +
		"vnm-001,HPG,nội dung,https://cafef.vn/hpg,2024-07-16,cafef\n"

	docs, rowErrors, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, docs, 2)
	assert.True(t, strings.HasPrefix(docs[0].Id, "lnk_"))
	assert.Equal(t, "vnm-001", docs[1].Id)
}

func TestParseCSV_MissingContentAndTitle(t *testing.T) {
	in := csvHeader +
		"a-1,,nội dung,https://a,2024-07-15,cafef\n" +
		"a-2,tiêu đề,,https://b,2024-07-15,cafef\n"

	docs, rowErrors, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.Len(t, rowErrors, 2)
	assert.Contains(t, rowErrors[0].Reason, "missing title")
	assert.Contains(t, rowErrors[1].Reason, "missing content")
}

func TestParseCSV_DuplicateIDsWithinBatch(t *testing.T) {
	in := csvHeader +
		"vnm-001,bản một,nội dung,https://a,2024-07-15,cafef\n" +
		"vnm-001,bản hai,nội dung,https://a,2024-07-15,cafef\n"

	docs, rowErrors, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "bản một", docs[0].Title)
	require.Len(t, rowErrors, 1)
	assert.Contains(t, rowErrors[0].Reason, "duplicate id")
}

func TestParseCSV_HeaderValidation(t *testing.T) {
	_, _, err := parseCSV(strings.NewReader("id,title,link\nx,y,z\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")

	_, _, err = parseCSV(strings.NewReader(""))
	require.Error(t, err)
}

func TestParseCSV_HeaderOrderDoesNotMatter(t *testing.T) {
	in := "source,id,date,content,link,title\n" +
		"cafef,vnm-001,2024-07-15,nội dung,https://a,VNM quý 2\n"

	docs, rowErrors, err := parseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, docs, 1)
	assert.Equal(t, "vnm-001", docs[0].Id)
	assert.Equal(t, "VNM quý 2", docs[0].Title)
	assert.Equal(t, "nội dung", docs[0].Content)
}

func TestTruncateSummary(t *testing.T) {
	assert.Equal(t, "ngắn", truncateSummary("  ngắn  ", 10))
	long := strings.Repeat("a", 100)
	got := truncateSummary(long, 80)
	assert.Equal(t, 81, len([]rune(got)), "80 runes plus the ellipsis")
	assert.True(t, strings.HasSuffix(got, "…"))
}
