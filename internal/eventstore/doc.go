// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// すべてのサービスの状態変更をイベントとして永続化する。イベントは不変（immutable）であり、
// 追記のみ（append-only）で運用される。Aggregate単位のバージョンで楽観的排他制御を行い、
// ストア全体の通番（seq）で購読側の増分取得を可能にする。
//
// 主な機能:
//   - イベントの追記（Append）
//   - AggregateIDによるイベント取得（状態再構築用）
//   - イベントタイプ・日時・通番によるイベント取得（通知リレー購読用）
//   - テナント単位の監査ログ
package eventstore
