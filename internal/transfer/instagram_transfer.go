package transfer

type InstagramContainerRequest struct {
	ImageURL       string   `json:"image_url,omitempty"`
	VideoURL       string   `json:"video_url,omitempty"`
	MediaType      string   `json:"media_type,omitempty"`
	Caption        string   `json:"caption,omitempty"`
	IsCarouselItem bool     `json:"is_carousel_item,omitempty"`
	Children       []string `json:"children,omitempty"`
	AccessToken    string   `json:"access_token"`
}

type InstagramPublishRequest struct {
	CreationID  string `json:"creation_id"`
	AccessToken string `json:"access_token"`
}

type InstagramMediaResponse struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink,omitempty"`
}

type InstagramErrorResponse struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           int    `json:"code"`
		ErrorSubcode   int    `json:"error_subcode"`
		IsTransient    bool   `json:"is_transient"`
		ErrorUserTitle string `json:"error_user_title"`
		ErrorUserMsg   string `json:"error_user_msg"`
		FbtraceID      string `json:"fbtrace_id"`
	} `json:"error"`
}
