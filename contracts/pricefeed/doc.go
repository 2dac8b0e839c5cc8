/*
Package pricefeed implements PriceFeed contract used as a fee oracle by the
disbursement service.

Providers publish quotes for currency pairs, every provider manages its own
entries. A quote is a fixed-point price: Price / 10^Decimals units of the
quote currency per one unit of the base currency. The disbursement service
reads "GAS/USD" quotes of the configured provider to convert its USD fee
per address into GAS.

Contract is deployed with the owner account as the only deployment parameter.
The owner can update the contract.

# Contract notifications

EntryUpdated notification. This notification is produced when a provider
publishes a new quote.

	name: EntryUpdated
	parameters:
	  - name: pair
	    type: String
	  - name: provider
	    type: Hash160
	  - name: price
	    type: Integer
	  - name: decimals
	    type: Integer
*/
package pricefeed

/*
Contract storage model.

# Summary
Key-value storage format:
 - 'o' -> interop.Hash160
   contract owner
 - 'e' + interop.Hash160 + string -> std.Serialize(Entry)
   quote of the pair published by the provider

# Entries
Provider hash goes first so that entries of different pairs never collide.
*/
