/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package command

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/imroc/req"

	"jinr.ru/greenlab/go-osi/pkg/api"
	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/store"
)

type ApiClient struct {
	*config.Config
	ApiPrefix string
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:    cfg,
		ApiPrefix: fmt.Sprintf("http://%s:%d/api", cfg.Api.Address, cfg.Api.Port),
	}
}

func (c *ApiClient) get(path string, v interface{}) error {
	r, err := req.Get(c.ApiPrefix + path)
	if err != nil {
		return err
	}
	if r.Response().StatusCode != 200 {
		return errors.New(r.Response().Status)
	}
	return r.ToJSON(v)
}

// Conversations requests the summaries of all stored conversations
func (c *ApiClient) Conversations() ([]*dissect.Summary, error) {
	var summaries []*dissect.Summary
	if err := c.get("/conversations", &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Conversation requests one conversation summary by its key
func (c *ApiClient) Conversation(key string) (*dissect.Summary, error) {
	summary := &dissect.Summary{}
	if err := c.get("/conversations/"+url.PathEscape(key), summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Frame requests the dispatch results of a frame
func (c *ApiClient) Frame(number uint64) ([]*dissect.Result, error) {
	var results []*dissect.Result
	if err := c.get(fmt.Sprintf("/frames/%d", number), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Pending requests unanswered invocations and incomplete units
func (c *ApiClient) Pending() (*store.Pending, error) {
	pending := &store.Pending{}
	if err := c.get("/pending", pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Replay asks the server to replay a capture file it can read
func (c *ApiClient) Replay(path string) (*api.ReplayResponse, error) {
	r, err := req.Post(c.ApiPrefix+"/replay", req.BodyJSON(&api.ReplayRequest{Path: path}))
	if err != nil {
		return nil, err
	}
	if r.Response().StatusCode != 200 {
		return nil, errors.New(r.Response().Status)
	}
	resp := &api.ReplayResponse{}
	if err := r.ToJSON(resp); err != nil {
		return nil, err
	}
	return resp, nil
}
