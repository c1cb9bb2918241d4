package viewer_test

import (
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/hed/dataset"
	"github.com/sugarme/hed/viewer"
)

type memDataset struct {
	samples []dataset.Sample
	calls   int
}

func (ds *memDataset) Len() int { return len(ds.samples) }

func (ds *memDataset) Item(idx int) (interface{}, error) {
	ds.calls++
	if idx < 0 || idx >= len(ds.samples) {
		return nil, errors.Errorf("index %v out of range", idx)
	}
	return ds.samples[idx], nil
}

func (ds *memDataset) DType() reflect.Type { return reflect.TypeOf(dataset.Sample{}) }

func newServer(n int) (*viewer.Server, *memDataset) {
	ds := &memDataset{}
	for i := 0; i < n; i++ {
		mask := make([]float32, 16*32)
		mask[i] = 1
		ds.samples = append(ds.samples, dataset.Sample{
			Image: image.NewNRGBA(image.Rect(0, 0, 32, 16)),
			Mask:  mask,
		})
	}
	logger, _ := test.NewNullLogger()
	return viewer.New("idcard", ds, logger), ds
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	s, _ := newServer(25)
	r := s.Router()

	rec := get(t, r, "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/page/1", rec.Header().Get("Location"))

	rec = get(t, r, "/page/1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "samples 0-19 of 25")
	assert.Contains(t, body, `/sample/19/edge.png`)
	assert.Contains(t, body, `href="/page/2"`)

	rec = get(t, r, "/page/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "samples 20-24 of 25")

	assert.Equal(t, http.StatusNotFound, get(t, r, "/page/3").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/page/0").Code)
}

func TestImage(t *testing.T) {
	s, ds := newServer(3)
	r := s.Router()

	rec := get(t, r, "/sample/2/image.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())

	rec = get(t, r, "/sample/2/edge.png")
	require.Equal(t, http.StatusOK, rec.Code)
	edge, err := png.Decode(rec.Body)
	require.NoError(t, err)
	gray, ok := edge.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(255), gray.GrayAt(2, 0).Y)
	assert.Equal(t, uint8(0), gray.GrayAt(3, 0).Y)

	// both requests were served by one load
	assert.Equal(t, 1, ds.calls)

	assert.Equal(t, http.StatusNotFound, get(t, r, "/sample/3/image.png").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/sample/1/mask.png").Code)
}
