/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package history

import "errors"

var (
	// ErrRecordNotFound indicates no update record matched
	// ErrRecordNotFound 表示没有匹配的更新记录
	ErrRecordNotFound = errors.New("history: update record not found")

	// ErrToVersionEmpty indicates the target version is missing
	// ErrToVersionEmpty 表示目标版本为空
	ErrToVersionEmpty = errors.New("history: to_version cannot be empty")

	// ErrInvalidStatus indicates a finish status other than success or failed
	// ErrInvalidStatus 表示完成状态不是 success 或 failed
	ErrInvalidStatus = errors.New("history: invalid finish status")
)
