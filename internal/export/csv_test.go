package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer

	err := WriteSummary(&buf, []DomainTotal{
		{Domain: "asos.com", Total: 1234},
		{Domain: "bbc.co.uk", Total: 0},
	})

	require.NoError(t, err)
	assert.Equal(t, "asos.com,1234\nbbc.co.uk,0\n", buf.String())
}

func TestWriteDaily(t *testing.T) {
	var buf bytes.Buffer

	err := WriteDaily(&buf, []service.DailyClicks{
		{Day: time.Date(2013, 3, 1, 0, 0, 0, 0, time.UTC), Clicks: 7},
		{Day: time.Date(2013, 3, 2, 0, 0, 0, 0, time.UTC), Clicks: 3},
	})

	require.NoError(t, err)
	assert.Equal(t, "date,clicks\n2013-03-01,7\n2013-03-02,3\n", buf.String())
}

func TestWriteDaily_Empty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteDaily(&buf, nil))
	assert.Equal(t, "date,clicks\n", buf.String())
}

func TestWriteLinks(t *testing.T) {
	var buf bytes.Buffer
	sampled := time.Date(2013, 3, 5, 4, 0, 0, 0, time.UTC)
	refreshed := time.Date(2013, 3, 10, 12, 0, 0, 0, time.UTC)

	err := WriteLinks(&buf, []service.LinkRow{
		{
			ShortLink:     "http://bit.ly/Wozuff",
			Title:         "Dresses, tops",
			TargetURL:     "http://www.asos.com/dresses",
			TotalClicks:   12,
			LastSampleAt:  &sampled,
			LastRefreshed: &refreshed,
			Active:        true,
		},
		{ShortLink: "http://bit.ly/new", TargetURL: "http://www.asos.com/new", Active: true},
	})

	require.NoError(t, err)
	assert.Equal(t,
		"short_link,title,target_url,total_clicks,last_sample_at,last_refreshed,active\n"+
			"http://bit.ly/Wozuff,\"Dresses, tops\",http://www.asos.com/dresses,12,2013-03-05T04:00:00Z,2013-03-10T12:00:00Z,true\n"+
			"http://bit.ly/new,,http://www.asos.com/new,0,,,true\n",
		buf.String())
}
