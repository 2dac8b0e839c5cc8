/*
Package disburser implements quota-gated batch disbursement service.

Users buy quota by paying service fee in native currency. The fee per address
is calibrated against the price quoted by an external oracle. Quota is then
spent to send native currency, tokens or account registration payments to many
recipients at once. Every batch is reserved pessimistically: quota is debited
before the legs are dispatched and restored per failed leg during the single
reconciliation step, which also returns funds of failed legs to the requester.

All state changes of a request are made on a storage overlay that is persisted
only when the request succeeds, so rejected requests leave no trace. Requests
and reconciliations are serialized by the service.

# Storage model

	'o'           -> owner identity
	'c'           -> oracle configuration (serialized struct)
	'v'           -> schema version of the stored state
	'f'           -> last observed oracle fee per address
	'q' + account -> quota of the account
	'r' + id      -> refund of orchestration id whose transfer failed
	                 (serialized struct), removed once delivered

Refund transfers that fail are not lost: they are kept pending and sent again
by Service.RetryRefunds with the same transfer details.

# Service events

Records are emitted after the state they describe is persisted, see package
events for the format.

	update_fee
	  - emitted when the oracle quote changes the fee per address

	set_oracle_id
	  - emitted when the owner replaces oracle configuration

	pay_fee
	  - emitted when a service fee payment is accepted

	refund_near
	  - emitted when a failed batch leg or a rejected fee payment is refunded;
	    for token batches it reports the amount the token ledger is asked to
	    return
*/
package disburser
