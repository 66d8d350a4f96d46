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

package config

const (
	ConfigDir            = ".go-osi"
	ConfigFile           = "config"
	DBFile               = "results.db"
	CaptureDir           = "captures"
	DefaultLogLevel      = "info"
	DefaultApiAddress    = "127.0.0.1"
	DefaultApiPort       = 8010
	DefaultApiRateLimit  = 50.0
	DefaultApiBurst      = 100
	DefaultTransportPort = 102 // ISO-TSAP over TCP, RFC 1006
	DefaultMaxDepth      = 32
	ProtocolACSE         = "acse"
	ProtocolROSE         = "rose"
	ProtocolRaw          = "raw"
	ACSEAbstractSyntax   = "2.2.1.0.1"
	DAPAbstractSyntax    = "2.5.9.1"
	DSPAbstractSyntax    = "2.5.9.2"
	BERTransferSyntax    = "2.1.1"
)
