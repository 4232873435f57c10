package greader

// ItemRef is one entry of an id listing. ID is the decimal surrogate id.
type ItemRef struct {
	ID              string   `json:"id"`
	DirectStreamIDs []string `json:"directStreamIds"`
	TimestampUsec   string   `json:"timestampUsec"`
}

type ItemIDs struct {
	ItemRefs     []ItemRef `json:"itemRefs"`
	Continuation string    `json:"continuation,omitempty"`
}

type Link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

type Summary struct {
	Direction string `json:"direction"`
	Content   string `json:"content"`
}

type Origin struct {
	StreamID string `json:"streamId"`
	Title    string `json:"title"`
	HTMLURL  string `json:"htmlUrl"`
}

type ItemContent struct {
	CrawlTimeMsec string   `json:"crawlTimeMsec"`
	TimestampUsec string   `json:"timestampUsec"`
	ID            string   `json:"id"`
	Categories    []string `json:"categories"`
	Published     int64    `json:"published"`
	Updated       int64    `json:"updated"`
	Canonical     []Link   `json:"canonical"`
	Alternate     []Link   `json:"alternate"`
	Summary       Summary  `json:"summary"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Origin        Origin   `json:"origin"`
}

// Contents answers stream/items/contents.
type Contents struct {
	Direction   string        `json:"direction"`
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Updated     int64         `json:"updated"`
	Items       []ItemContent `json:"items"`
}

// ContentPage answers the JSON unread listing.
type ContentPage struct {
	Items          []ItemContent `json:"items"`
	NextPageOffset string        `json:"nextPageOffset,omitempty"`
}

type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type SubscriptionInfo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	FeedURL     string     `json:"feedUrl"`
	HTMLURL     string     `json:"htmlUrl"`
	Categories  []Category `json:"categories"`
}

type SubscriptionList struct {
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

type QuickAddResult struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	StreamID   string `json:"streamId"`
}

type UnreadCountEntry struct {
	ID                      string `json:"id"`
	Count                   int64  `json:"count"`
	NewestItemTimestampUsec string `json:"newestItemTimestampUsec"`
}

type UnreadCounts struct {
	Max          int                `json:"max"`
	UnreadCounts []UnreadCountEntry `json:"unreadcounts"`
}

type UserInfo struct {
	UserID              string `json:"userId"`
	UserName            string `json:"userName"`
	UserProfileID       string `json:"userProfileId"`
	UserEmail           string `json:"userEmail"`
	IsBloggerUser       bool   `json:"isBloggerUser"`
	SignupTimeSec       int64  `json:"signupTimeSec"`
	IsMultiLoginEnabled bool   `json:"isMultiLoginEnabled"`
}

// ImportResult reports the outcome of an OPML import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Failed   []string `json:"failed"`
}
