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
	"context"

	"jinr.ru/greenlab/go-osi/pkg/api"
	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/log"
	"jinr.ru/greenlab/go-osi/pkg/store"
)

// ReplayToStore replays the files and replaces the stored results with the new ones
func ReplayToStore(cfg *config.Config, s *store.Store, paths []string) (int, error) {
	r, packets, err := Replay(cfg, paths)
	if err != nil {
		return 0, err
	}
	if err := s.Clear(); err != nil {
		return 0, err
	}
	if err := s.Save(r.Dispatcher()); err != nil {
		return 0, err
	}
	log.Info("Stored %d conversations", len(r.Dispatcher().Conversations()))
	return len(packets), nil
}

// StartApiServer replays the files into the result store and serves it
func StartApiServer(ctx context.Context, cfg *config.Config, paths []string) error {
	s, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()
	if len(paths) > 0 {
		if _, err := ReplayToStore(cfg, s, paths); err != nil {
			return err
		}
	}
	replay := func(path string) (int, error) {
		return ReplayToStore(cfg, s, []string{path})
	}
	return api.NewApiServer(ctx, cfg, s, replay).Run()
}
