package entity

// ContentType tags cached API responses and selects their TTL.
type ContentType string

const (
	ContentFeed   ContentType = "FEED"
	ContentSearch ContentType = "SEARCH"
	ContentCharts ContentType = "CHARTS"
	ContentAlbum  ContentType = "ALBUM"
	ContentArtist ContentType = "ARTIST"
	ContentGenres ContentType = "GENRES"
)

func (c ContentType) String() string {
	return string(c)
}
