package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	callback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return callback, c
}

// Api is the REST consumer side of the engine: the marker store, the legacy
// mark-read endpoint, and the incremental notification refetch. All calls are
// asynchronous and report through a callback; results arriving after the api
// context is cancelled are discarded.
type Api struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	accessToken string
}

func NewApi(apiUrl string, accessToken string) *Api {
	return NewApiWithContext(context.Background(), apiUrl, accessToken)
}

func NewApiWithContext(ctx context.Context, apiUrl string, accessToken string) *Api {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Api{
		ctx:         cancelCtx,
		cancel:      cancel,
		apiUrl:      apiUrl,
		accessToken: accessToken,
	}
}

// after Close, pending calls complete but their callbacks are not invoked
func (self *Api) Close() {
	self.cancel()
}

type SaveMarkerCallback apiCallback[SaveMarkerResult]

type saveMarkerArgs struct {
	LastReadId string `json:"last_read_id"`
}

// timeline name -> marker
type SaveMarkerResult map[string]*ReadMarker

// `PUT /api/v1/markers` keyed by timeline name
func (self *Api) SaveMarker(timeline string, lastReadId string, callback SaveMarkerCallback) {
	args := map[string]*saveMarkerArgs{
		timeline: {
			LastReadId: lastReadId,
		},
	}
	go request(
		self.ctx,
		"PUT",
		fmt.Sprintf("%s/api/v1/markers", self.apiUrl),
		args,
		self.accessToken,
		SaveMarkerResult{},
		callback,
	)
}

func (self *Api) SaveMarkerSync(timeline string, lastReadId string) (SaveMarkerResult, error) {
	callback, c := NewBlockingApiCallback[SaveMarkerResult]()
	self.SaveMarker(timeline, lastReadId, callback)
	select {
	case r := <-c:
		return r.Result, r.Error
	case <-self.ctx.Done():
		return nil, context.Canceled
	}
}

type GetMarkerCallback apiCallback[SaveMarkerResult]

// `GET /api/v1/markers?timeline[]=<timeline>`
func (self *Api) GetMarker(timeline string, callback GetMarkerCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/api/v1/markers?timeline[]=%s", self.apiUrl, url.QueryEscape(timeline)),
		nil,
		self.accessToken,
		SaveMarkerResult{},
		callback,
	)
}

func (self *Api) GetMarkerSync(timeline string) (SaveMarkerResult, error) {
	callback, c := NewBlockingApiCallback[SaveMarkerResult]()
	self.GetMarker(timeline, callback)
	select {
	case r := <-c:
		return r.Result, r.Error
	case <-self.ctx.Done():
		return nil, context.Canceled
	}
}

type NotificationsReadCallback apiCallback[NotificationsReadResult]

type notificationsReadArgs struct {
	MaxId string `json:"max_id"`
}

// the endpoint echoes back the notifications it marked read
type NotificationsReadResult []*NotificationRecord

// legacy compatibility endpoint: `POST /api/v1/pleroma/notifications/read`
func (self *Api) MarkNotificationsRead(maxId string, callback NotificationsReadCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/v1/pleroma/notifications/read", self.apiUrl),
		&notificationsReadArgs{
			MaxId: maxId,
		},
		self.accessToken,
		NotificationsReadResult{},
		callback,
	)
}

func (self *Api) MarkNotificationsReadSync(maxId string) (NotificationsReadResult, error) {
	callback, c := NewBlockingApiCallback[NotificationsReadResult]()
	self.MarkNotificationsRead(maxId, callback)
	select {
	case r := <-c:
		return r.Result, r.Error
	case <-self.ctx.Done():
		return nil, context.Canceled
	}
}

type GetNotificationsCallback apiCallback[*NotificationPage]

type NotificationPage struct {
	Notifications []*NotificationRecord
	// opaque next-page token from the `Link` header, empty when exhausted
	NextPageToken string
}

// `GET /api/v1/notifications?since_id=<id>`. Pass an empty pageToken for the
// first page; pass the previous page's NextPageToken to continue.
func (self *Api) GetNotifications(sinceId string, pageToken string, callback GetNotificationsCallback) {
	requestUrl := pageToken
	if requestUrl == "" {
		requestUrl = fmt.Sprintf("%s/api/v1/notifications", self.apiUrl)
		if sinceId != "" {
			requestUrl = fmt.Sprintf("%s?since_id=%s", requestUrl, url.QueryEscape(sinceId))
		}
	}
	go getPage(self.ctx, requestUrl, self.accessToken, callback)
}

func (self *Api) GetNotificationsSync(sinceId string, pageToken string) (*NotificationPage, error) {
	callback, c := NewBlockingApiCallback[*NotificationPage]()
	self.GetNotifications(sinceId, pageToken, callback)
	select {
	case r := <-c:
		return r.Result, r.Error
	case <-self.ctx.Done():
		return nil, context.Canceled
	}
}

func getPage(ctx context.Context, requestUrl string, accessToken string, callback GetNotificationsCallback) {
	req, err := http.NewRequestWithContext(ctx, "GET", requestUrl, nil)
	if err != nil {
		deliverResult[*NotificationPage](ctx, nil, err, callback)
		return
	}
	if accessToken != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		deliverResult[*NotificationPage](ctx, nil, err, callback)
		return
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		deliverResult[*NotificationPage](ctx, nil, err, callback)
		return
	}

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		deliverResult[*NotificationPage](ctx, nil, errors.New(errorMessage), callback)
		return
	}

	var notifications []*NotificationRecord
	if err := json.Unmarshal(responseBodyBytes, &notifications); err != nil {
		deliverResult[*NotificationPage](ctx, nil, err, callback)
		return
	}

	page := &NotificationPage{
		Notifications: notifications,
		NextPageToken: parseNextLink(r.Header.Get("Link")),
	}
	deliverResult(ctx, page, nil, callback)
}

// extracts the `rel="next"` url from a `Link` header
func parseNextLink(linkHeader string) string {
	for _, part := range strings.Split(linkHeader, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(sections[0]), "<>")
		for _, param := range sections[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return target
			}
		}
	}
	return ""
}

func request[R any](ctx context.Context, method string, requestUrl string, args any, accessToken string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			deliverResult(ctx, empty, err, callback)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, requestUrl, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		deliverResult(ctx, empty, err, callback)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		deliverResult(ctx, empty, err, callback)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		deliverResult(ctx, result, err, callback)
		return result, err
	}

	if err != nil {
		deliverResult(ctx, result, err, callback)
		return result, err
	}

	if len(responseBodyBytes) > 0 {
		if err := json.Unmarshal(responseBodyBytes, &result); err != nil {
			var empty R
			deliverResult(ctx, empty, err, callback)
			return empty, err
		}
	}

	deliverResult(ctx, result, nil, callback)
	return result, nil
}

// drops the result if the api context was cancelled, so no callback fires
// into torn-down state
func deliverResult[R any](ctx context.Context, result R, err error, callback apiCallback[R]) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	if callback != nil {
		callback.Result(result, err)
	}
}
