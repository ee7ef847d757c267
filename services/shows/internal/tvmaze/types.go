package tvmaze

// ShowRecord is one element of GET /shows?page=N. Unknown fields are ignored.
type ShowRecord struct {
	ID             int64     `json:"id"`
	URL            string    `json:"url"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Language       string    `json:"language"`
	Genres         []string  `json:"genres"`
	Status         string    `json:"status"`
	Runtime        *int      `json:"runtime"`
	AverageRuntime *int      `json:"averageRuntime"`
	Premiered      string    `json:"premiered"`
	Ended          string    `json:"ended"`
	OfficialSite   string    `json:"officialSite"`
	Schedule       Schedule  `json:"schedule"`
	Rating         Rating    `json:"rating"`
	Externals      Externals `json:"externals"`
	Image          *Image    `json:"image"`
	Summary        string    `json:"summary"`
	Updated        int64     `json:"updated"`
}

type Schedule struct {
	Time string   `json:"time"`
	Days []string `json:"days"`
}

type Rating struct {
	Average *float64 `json:"average"`
}

type Externals struct {
	TVRage  *int   `json:"tvrage"`
	TheTVDB *int   `json:"thetvdb"`
	IMDb    string `json:"imdb"`
}

type Image struct {
	Medium   string `json:"medium"`
	Original string `json:"original"`
}
